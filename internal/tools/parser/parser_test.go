package parser

import (
	"encoding/json"
	"testing"
)

func TestParse_PlainJSON(t *testing.T) {
	call, ok := Parse(`{"name":"get_flight_times","arguments":{"departure":"LAX","destination":"JFK"}}`)
	if !ok {
		t.Fatal("expected a parsed call")
	}
	if call.Name != "get_flight_times" || call.Arguments["departure"] != "LAX" {
		t.Fatalf("got %+v", call)
	}
}

func TestParse_CodeFenceAndSmartQuotes(t *testing.T) {
	raw := "```json\n{“name”: “get_weather”, “arguments”: {“city”: “SF”}}\n```"
	call, ok := Parse(raw)
	if !ok || call.Name != "get_weather" {
		t.Fatalf("got %+v ok=%v", call, ok)
	}
}

func TestParse_TrailingComma(t *testing.T) {
	call, ok := Parse(`{"name":"get_weather","arguments":{"city":"SF",},}`)
	if !ok || call.Name != "get_weather" {
		t.Fatalf("got %+v ok=%v", call, ok)
	}
}

func TestParse_SingleQuotedJSON(t *testing.T) {
	call, ok := Parse(`{'name':'get_weather','arguments':{'city':'SF'}}`)
	if !ok || call.Name != "get_weather" {
		t.Fatalf("got %+v ok=%v", call, ok)
	}
}

func TestParse_EmbeddedInProse(t *testing.T) {
	raw := "Sure, let me check that.\n" +
		`{"name":"get_weather","arguments":{"city":"SF"}}` + "\nHope that helps!"
	call, ok := Parse(raw)
	if !ok || call.Name != "get_weather" {
		t.Fatalf("got %+v ok=%v", call, ok)
	}
}

func TestParse_NoCallFound(t *testing.T) {
	if _, ok := Parse("Just a plain natural-language answer."); ok {
		t.Fatal("expected no call to be found")
	}
}

func decodeRaw(t *testing.T, js string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(js), &m); err != nil {
		t.Fatalf("decode %s: %v", js, err)
	}
	return m
}

func TestIsValidFunctionCallResponse(t *testing.T) {
	cases := []struct {
		name string
		js   string
		want bool
	}{
		{"valid scalars", `{"name":"x","arguments":{"a":1,"b":"s","c":true,"d":null}}`, true},
		{"empty name", `{"name":"","arguments":{}}`, false},
		{"missing arguments", `{"name":"x"}`, false},
		{"extra key", `{"name":"x","arguments":{},"extra":1}`, false},
		{"nested object rejected for ordinary tool", `{"name":"x","arguments":{"a":{"b":1}}}`, false},
		{"list rejected", `{"name":"x","arguments":{"a":[1,2]}}`, false},
		{"vector search nested operator allowed", `{"name":"vector_store_search","arguments":{"filter":{"$and":{"$eq":1}}}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidFunctionCallResponse(decodeRaw(t, tc.js)); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsComplexVectorSearch(t *testing.T) {
	cases := []struct {
		name string
		js   string
		want bool
	}{
		{"plain non-dollar non-leaf key rejected", `{"a":{"b":1}}`, false},
		{"dollar-prefixed non-leaf key accepted", `{"$and":{"$eq":1}}`, true},
		{"leaf scalar keys need no prefix", `{"b":1}`, true},
		{"list at any depth rejected", `{"$and":[1,2]}`, false},
		{"nested list rejected", `{"$and":{"$in":[1,2]}}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v map[string]json.RawMessage
			if err := json.Unmarshal([]byte(tc.js), &v); err != nil {
				t.Fatalf("decode: %v", err)
			}
			var got bool
			for _, val := range v {
				got = IsComplexVectorSearch(val)
				break
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
