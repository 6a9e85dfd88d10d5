package codeinterpreter

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// downloadClaims are embedded in a signed artifact download URL's token so
// a download endpoint can authorize the request without a round-trip to
// the Storage API.
type downloadClaims struct {
	ArtifactID string `json:"artifact_id"`
	jwt.RegisteredClaims
}

// SignDownloadURL builds a signed, time-limited token for fetching
// artifactID and appends it to baseURL as a query parameter. If secret is
// empty, baseURL is returned unmodified (signing is optional).
func SignDownloadURL(secret, baseURL, artifactID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return baseURL, nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := downloadClaims{
		ArtifactID: artifactID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   artifactID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("code interpreter: sign artifact download url: %w", err)
	}

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stoken=%s", baseURL, sep, token), nil
}

// VerifyDownloadToken validates a signed download token and returns the
// artifact id it authorizes access to.
func VerifyDownloadToken(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &downloadClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("code interpreter: invalid download token: %w", err)
	}
	claims, ok := parsed.Claims.(*downloadClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("code interpreter: invalid download token claims")
	}
	return claims.ArtifactID, nil
}
