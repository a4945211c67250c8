// Package event defines the timeline event model shared by the stream
// client, the feed, and the sidebar: one tagged union covering human chat
// turns and backend-originated business notifications.
//
// The wire contract is the `message` shape: business frames carry
// {"kind":"business","type":...,"message":...,"agent_id":...,"timestamp":...}
// and chat turns carry {"kind":"chat","role":...,"content":...,"timestamp":...}.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the two event variants.
type Kind string

const (
	KindChat     Kind = "chat"
	KindBusiness Kind = "business"
)

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BusinessType categorizes business events.
type BusinessType string

const (
	TypeStaffReassignment BusinessType = "STAFF_REASSIGNMENT"
	TypePTOConflict       BusinessType = "PTO_CONFLICT"
	TypeTaskReassignment  BusinessType = "TASK_REASSIGNMENT"
	TypeUpdate            BusinessType = "UPDATE"
	TypeError             BusinessType = "ERROR"
)

// Event is the sealed union of timeline entries. Only ChatEvent and
// BusinessEvent implement it; rendering code dispatches with a type switch
// over this closed set.
type Event interface {
	Kind() Kind
	// When returns the raw ISO-8601 timestamp string carried by the event.
	When() string
	sealed()
}

// ChatEvent is one turn of the human/assistant conversation.
type ChatEvent struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// BusinessEvent is a backend-originated notification about a domain
// occurrence (staff reassignment, PTO conflict, ...) unrelated to direct chat.
type BusinessEvent struct {
	Type      BusinessType `json:"type"`
	Message   string       `json:"message"`
	AgentID   string       `json:"agent_id"`
	Timestamp string       `json:"timestamp"`
}

func (ChatEvent) Kind() Kind     { return KindChat }
func (ChatEvent) sealed()        {}
func (e ChatEvent) When() string { return e.Timestamp }

func (BusinessEvent) Kind() Kind     { return KindBusiness }
func (BusinessEvent) sealed()        {}
func (e BusinessEvent) When() string { return e.Timestamp }

// NewChat builds a chat event stamped with the current wall-clock time.
func NewChat(role Role, content string) ChatEvent {
	return ChatEvent{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// envelope is the serialized form: the variant fields plus the kind tag.
type envelope struct {
	Kind Kind `json:"kind"`

	// Chat fields.
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Business fields.
	Type    BusinessType `json:"type,omitempty"`
	Message string       `json:"message,omitempty"`
	AgentID string       `json:"agent_id,omitempty"`

	Timestamp string `json:"timestamp"`
}

// Encode serializes an event with its kind tag.
func Encode(ev Event) ([]byte, error) {
	var env envelope
	switch e := ev.(type) {
	case ChatEvent:
		env = envelope{Kind: KindChat, Role: e.Role, Content: e.Content, Timestamp: e.Timestamp}
	case BusinessEvent:
		env = envelope{Kind: KindBusiness, Type: e.Type, Message: e.Message, AgentID: e.AgentID, Timestamp: e.Timestamp}
	default:
		return nil, fmt.Errorf("encode event: unknown variant %T", ev)
	}
	return json.Marshal(env)
}

// Decode parses a JSON frame into an event, keyed on the kind tag.
// Frames without a kind tag are treated as business events, matching the
// push endpoint which emits bare business frames.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}

	switch env.Kind {
	case KindChat:
		return ChatEvent{Role: env.Role, Content: env.Content, Timestamp: env.Timestamp}, nil
	case KindBusiness, "":
		return BusinessEvent{Type: env.Type, Message: env.Message, AgentID: env.AgentID, Timestamp: env.Timestamp}, nil
	default:
		return nil, fmt.Errorf("decode event frame: unknown kind %q", env.Kind)
	}
}

// businessLabels maps business event types to the short card headings shown
// in the sidebar. Unknown types map to "" and the card renders without a
// heading.
var businessLabels = map[BusinessType]string{
	TypeStaffReassignment: "Staff Reassigned",
	TypePTOConflict:       "PTO Conflict",
	TypeTaskReassignment:  "Task Reassigned",
	TypeUpdate:            "Agent Update",
	TypeError:             "Agent Error",
}

// Label returns the human heading for a business event type, or "" for
// types this build does not know about.
func Label(t BusinessType) string {
	return businessLabels[t]
}

// FormatTimestamp renders an ISO-8601 timestamp as hour:minute with the
// timezone abbreviation. Timestamps without an explicit zone are treated as
// UTC. Malformed input renders the literal "Invalid time" rather than
// failing.
func FormatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		// No zone marker: normalize as UTC before giving up.
		t, err = time.ParseInLocation("2006-01-02T15:04:05.999999999", ts, time.UTC)
		if err != nil {
			return "Invalid time"
		}
	}
	return t.Format("15:04 MST")
}
