// Package reply turns a streamed model response into a structured reply.
//
// The model is asked to answer with a single JSON document such as
//
//	{"thought": "...", "tool_calls": [{"name": "calculator", "arguments": {"expr": "2+2"}}]}
//	{"result": "4"}
//
// The Accumulator re-parses the whole buffer on every chunk, so the structured
// fields are always a function of the text seen so far.
package reply

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Reply is the structured view of the text received so far.
type Reply struct {
	Text         string `json:"text"`          // concatenation of all chunks
	CurrentChunk string `json:"current_chunk"` // most recent delta

	Result    string      `json:"result,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Artifacts interface{} `json:"artifacts,omitempty"`

	// Auxiliary reasoning fields. Carried through, never control-relevant.
	Observation string `json:"observation,omitempty"`
	Thought     string `json:"thought,omitempty"`
	Reflection  string `json:"reflection,omitempty"`
	Mindspace   string `json:"mindspace,omitempty"`
	Type        string `json:"type,omitempty"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`

	// Extra holds unrecognized keys of the document.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// HasArtifacts reports whether the reply carries a non-empty artifacts payload.
func (r Reply) HasArtifacts() bool {
	switch v := r.Artifacts.(type) {
	case nil:
		return false
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	case string:
		return v != ""
	default:
		return true
	}
}

// Accumulator collects streamed chunks into a Reply.
// It is not safe for concurrent use.
type Accumulator struct {
	buf   strings.Builder
	reply Reply
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// AddChunk appends delta and re-parses the full buffer.
// When the buffer is not yet a complete document the structured fields keep
// their last parsed values and Result holds the raw buffer.
func (a *Accumulator) AddChunk(delta string) Reply {
	a.buf.WriteString(delta)
	text := a.buf.String()

	a.reply.Text = text
	a.reply.CurrentChunk = delta

	if parsed, ok := Parse(text); ok {
		parsed.CurrentChunk = delta
		a.reply = parsed
	} else {
		a.reply.Result = text
	}
	return a.snapshot()
}

// Finalize performs the authoritative parse of the complete buffer.
// Malformed documents get one repair attempt; otherwise the reply degrades to
// the raw text with no structured fields.
func (a *Accumulator) Finalize() Reply {
	text := a.buf.String()
	chunk := a.reply.CurrentChunk

	parsed, ok := Parse(text)
	if !ok {
		parsed, ok = repair(text)
	}
	if !ok {
		parsed = Reply{Text: text, Result: text}
	}
	parsed.CurrentChunk = chunk
	a.reply = parsed
	return a.snapshot()
}

// Reply returns the current reply.
func (a *Accumulator) Reply() Reply {
	return a.snapshot()
}

func (a *Accumulator) snapshot() Reply {
	r := a.reply
	if r.ToolCalls != nil {
		r.ToolCalls = append([]ToolCall(nil), r.ToolCalls...)
	}
	return r
}

// Parse decodes text as one reply document.
// It returns false when text does not contain a complete JSON object.
func Parse(text string) (Reply, bool) {
	doc, ok := decodeDocument(text)
	if !ok {
		return Reply{}, false
	}
	return fromDocument(text, doc), true
}

func repair(text string) (Reply, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return Reply{}, false
	}
	fixed, err := jsonrepair.JSONRepair(stripFence(text[start:]))
	if err != nil {
		return Reply{}, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(fixed), &doc); err != nil || doc == nil {
		return Reply{}, false
	}
	return fromDocument(text, doc), true
}

// decodeDocument locates the JSON object in text: the whole (unfenced) text
// first, then the span from the first '{' to the last '}'.
func decodeDocument(text string) (map[string]interface{}, bool) {
	candidate := stripFence(strings.TrimSpace(text))
	if doc, ok := decodeObject(candidate); ok {
		return doc, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeObject(text[start : end+1])
}

func decodeObject(s string) (map[string]interface{}, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(s), &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func fromDocument(text string, doc map[string]interface{}) Reply {
	r := Reply{Text: text}

	for key, value := range doc {
		switch key {
		case "result", "response":
		case "tool_calls", "tool_call":
		case "artifacts", "artifact":
			r.Artifacts = value
		case "observation":
			r.Observation = stringify(value)
		case "thought":
			r.Thought = stringify(value)
		case "reflection":
			r.Reflection = stringify(value)
		case "mindspace":
			r.Mindspace = stringify(value)
		case "type":
			r.Type = stringify(value)
		case "before":
			r.Before = stringify(value)
		case "after":
			r.After = stringify(value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]interface{})
			}
			r.Extra[key] = value
		}
	}

	// tool_calls wins over the older tool_call key when both are present.
	if v, ok := doc["tool_calls"]; ok {
		r.ToolCalls = parseToolCalls(v)
	} else if v, ok := doc["tool_call"]; ok {
		r.ToolCalls = parseToolCalls(v)
	}

	switch {
	case present(doc["result"]):
		r.Result = stringify(doc["result"])
	case present(doc["response"]):
		r.Result = stringify(doc["response"])
	default:
		r.Result = text
	}
	return r
}

func present(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func parseToolCalls(v interface{}) []ToolCall {
	switch t := v.(type) {
	case []interface{}:
		var calls []ToolCall
		for _, item := range t {
			calls = append(calls, parseToolCalls(item)...)
		}
		return calls
	case map[string]interface{}:
		// {"tool": {...}} or {"tool": [...]} envelope
		if inner, ok := t["tool"]; ok {
			if _, hasName := t["name"]; !hasName {
				return parseToolCalls(inner)
			}
		}
		name, _ := t["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		return []ToolCall{{Name: name, Arguments: parseArguments(t)}}
	default:
		return nil
	}
}

func parseArguments(call map[string]interface{}) map[string]interface{} {
	raw, ok := call["arguments"]
	if !ok {
		raw = call["args"]
	}
	switch a := raw.(type) {
	case map[string]interface{}:
		return a
	case string:
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(a), &args); err == nil {
			return args
		}
	}
	return map[string]interface{}{}
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
