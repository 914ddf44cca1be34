package session

import "github.com/vinayprograms/crew/internal/tools"

// Event kinds delivered to an Output.
const (
	EventChunk     = "chunk"     // streamed delta
	EventReply     = "reply"     // completed turn
	EventArtifacts = "artifacts" // auxiliary content kept out of the transcript
	EventPayload   = "payload"   // non-textual tool result
	EventNotice    = "notice"    // informational line (registrations, errors)
)

// Event is one observable side effect of a conversation.
type Event struct {
	Kind      string
	Agent     string
	Content   string
	Artifacts interface{}
	Payload   *tools.Payload
}

// Output receives conversation events (terminal, websocket, tests).
type Output interface {
	Emit(Event)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(Event)

func (f OutputFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Output = OutputFunc(func(Event) {})
