package stream

import (
	"regexp"
	"strings"
)

// State is one of the three demultiplexer states.
type State string

const (
	StateNormal    State = "NORMAL"
	StateReasoning State = "REASONING"
	StateCode      State = "CODE"
)

// maxCodeBufRunes is the longest a code_buf may grow without a newline
// before it is force-flushed as a single hot_code chunk.
const maxCodeBufRunes = 100

var thinkTagSplit = regexp.MustCompile(`(<think>|</think>)`)

// codeInterpreterPreamble liberally matches the structural beginning of
// {"name":"code_interpreter","arguments":{"code": ...} against accumulated
// text so far, capturing the (possibly partial) code body already
// streamed. Single or double quotes are both accepted.
var codeInterpreterPreamble = regexp.MustCompile(
	`(?s)^\s*\{\s*["']name["']\s*:\s*["']code_interpreter["']\s*,\s*["']arguments["']\s*:\s*\{\s*["']code["']\s*:\s*["'](.*)$`,
)

// Demultiplexer is the pure per-token state machine that classifies a raw
// streamed delta into typed content/reasoning/hot-code/status chunks. Step
// is the only mutating entry point; buffer bookkeeping and regex matching
// are internal so the state machine stays independently testable.
type Demultiplexer struct {
	state            State
	streamReasoning  bool
	assistantReply   strings.Builder
	accumulated      strings.Builder
	reasoningBuf     strings.Builder
	codeBuf          strings.Builder
	codePreambleDone bool
}

// New creates a Demultiplexer. When streamReasoning is false, reasoning
// text is still tracked internally but no reasoning chunks are emitted.
func New(streamReasoning bool) *Demultiplexer {
	return &Demultiplexer{state: StateNormal, streamReasoning: streamReasoning}
}

// State returns the current machine state, mostly useful for tests.
func (d *Demultiplexer) State() State { return d.state }

// AssistantReply returns the visible text accumulated so far (content +
// hot_code segments are NOT included; it is the content-only channel used
// to persist the final assistant message).
func (d *Demultiplexer) AssistantReply() string { return d.assistantReply.String() }

// Accumulated returns the NORMAL-state text accumulated since the last
// code-interpreter preamble match, the buffer the tool call parser runs
// its function-call extraction against.
func (d *Demultiplexer) Accumulated() string { return d.accumulated.String() }

// Step processes one provider delta (a raw content fragment) and returns
// the chunks it produces, in order.
func (d *Demultiplexer) Step(delta string) []Chunk {
	if delta == "" {
		return nil
	}

	var chunks []Chunk
	parts := thinkTagSplit.Split(delta, -1)
	tags := thinkTagSplit.FindAllString(delta, -1)

	// Split interleaves: parts[0], tags[0], parts[1], tags[1], ...
	for i, part := range parts {
		if part != "" {
			chunks = append(chunks, d.consumeSegment(part)...)
		}
		if i < len(tags) {
			chunks = append(chunks, d.consumeTag(tags[i])...)
		}
	}
	return chunks
}

// StepReasoningContent handles a provider's dedicated delta.reasoning_content
// field, which bypasses the <think> tag parser entirely.
func (d *Demultiplexer) StepReasoningContent(text string) []Chunk {
	if text == "" {
		return nil
	}
	d.reasoningBuf.WriteString(text)
	if !d.streamReasoning {
		return nil
	}
	return []Chunk{{Type: ChunkReasoning, Content: text}}
}

func (d *Demultiplexer) consumeTag(tag string) []Chunk {
	switch tag {
	case "<think>":
		d.state = StateReasoning
		if d.streamReasoning {
			return []Chunk{{Type: ChunkReasoning, Content: tag}}
		}
	case "</think>":
		d.state = StateNormal
		if d.streamReasoning {
			return []Chunk{{Type: ChunkReasoning, Content: tag}}
		}
	}
	return nil
}

func (d *Demultiplexer) consumeSegment(seg string) []Chunk {
	switch d.state {
	case StateReasoning:
		d.reasoningBuf.WriteString(seg)
		if d.streamReasoning {
			return []Chunk{{Type: ChunkReasoning, Content: seg}}
		}
		return nil
	case StateCode:
		return d.appendCode(seg)
	default:
		return d.consumeNormal(seg)
	}
}

func (d *Demultiplexer) consumeNormal(seg string) []Chunk {
	d.assistantReply.WriteString(seg)
	d.accumulated.WriteString(seg)

	if m := codeInterpreterPreamble.FindStringSubmatch(d.accumulated.String()); m != nil {
		d.state = StateCode
		d.accumulated.Reset()
		chunks := []Chunk{{Type: ChunkHotCode, Content: "```python\n"}}
		chunks = append(chunks, d.appendCode(m[1])...)
		return chunks
	}

	return []Chunk{{Type: ChunkContent, Content: seg}}
}

func (d *Demultiplexer) appendCode(seg string) []Chunk {
	if seg == "" {
		return nil
	}
	d.codeBuf.WriteString(seg)
	var chunks []Chunk

	for {
		buffered := d.codeBuf.String()
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := buffered[:idx+1]
		chunks = append(chunks, Chunk{Type: ChunkHotCode, Content: line})
		d.codeBuf.Reset()
		d.codeBuf.WriteString(buffered[idx+1:])
	}

	if d.codeBuf.Len() > maxCodeBufRunes {
		chunks = append(chunks, Chunk{Type: ChunkHotCode, Content: d.codeBuf.String()})
		d.codeBuf.Reset()
	}

	return chunks
}
