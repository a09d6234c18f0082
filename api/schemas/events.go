package schemas

import (
	jsoniter "github.com/json-iterator/go"
)

var eventJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType defines the kind of an agent stream event.
type EventType string

const (
	EventSandboxCreated  EventType = "SANDBOX_CREATED"
	EventUpdate          EventType = "UPDATE"
	EventReasoning       EventType = "REASONING"
	EventAction          EventType = "ACTION"
	EventActionCompleted EventType = "ACTION_COMPLETED"
	EventDone            EventType = "DONE"
	EventError           EventType = "ERROR"
)

// Terminal protocol messages. Clients match on these strings, so they are
// part of the wire contract and must not be reworded.
const (
	MsgStoppedByUser        = "Generation stopped by user"
	MsgTaskCompleted        = "Task completed"
	MsgMaxIterationsReached = "Reached maximum tool iterations"
)

// Event is one entry in the agent's output stream. Exactly the fields
// relevant to its Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// Content carries prose for UPDATE, REASONING, DONE and ERROR events.
	Content string `json:"content,omitempty"`

	// Action is set on ACTION and ACTION_COMPLETED events.
	Action *Action `json:"action,omitempty"`

	// SandboxID and StreamURL are set on SANDBOX_CREATED.
	SandboxID string `json:"sandbox_id,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`

	// RateLimited flags ERROR events caused by provider rate limiting so
	// clients can surface a retry hint.
	RateLimited bool `json:"rate_limited,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Frame renders the event as a server-sent-events frame, including the
// trailing blank line that delimits frames.
func (e Event) Frame() []byte {
	data, err := eventJSON.Marshal(e)
	if err != nil {
		// Marshalling a plain struct of strings cannot fail; keep the
		// stream alive with an empty object if it somehow does.
		data = []byte("{}")
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame
}

// EventFromJSON decodes a single event payload, used by stream consumers
// and the journal replay path.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := eventJSON.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// NewSandboxCreatedEvent announces the desktop session backing a run.
func NewSandboxCreatedEvent(sandboxID, streamURL string) Event {
	return Event{Type: EventSandboxCreated, SandboxID: sandboxID, StreamURL: streamURL}
}

// NewUpdateEvent carries assistant prose produced mid-run.
func NewUpdateEvent(text string) Event {
	return Event{Type: EventUpdate, Content: text}
}

// NewReasoningEvent carries provider-surfaced thinking output.
func NewReasoningEvent(text string) Event {
	return Event{Type: EventReasoning, Content: text}
}

// NewActionEvent announces that an action is about to be executed.
func NewActionEvent(action Action) Event {
	return Event{Type: EventAction, Action: &action}
}

// NewActionCompletedEvent closes the matching ACTION event.
func NewActionCompletedEvent(action Action) Event {
	return Event{Type: EventActionCompleted, Action: &action}
}

// NewDoneEvent terminates the stream successfully.
func NewDoneEvent(content string) Event {
	return Event{Type: EventDone, Content: content}
}

// NewErrorEvent terminates the stream with a failure.
func NewErrorEvent(content string, rateLimited bool) Event {
	return Event{Type: EventError, Content: content, RateLimited: rateLimited}
}
