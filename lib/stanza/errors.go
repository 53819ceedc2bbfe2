package stanza

import "fmt"

// Condition is a defined stanza error condition.
type Condition string

const (
	ConditionServiceUnavailable   Condition = "service-unavailable"
	ConditionItemNotFound         Condition = "item-not-found"
	ConditionRecipientUnavailable Condition = "recipient-unavailable"
	ConditionRemoteServerNotFound Condition = "remote-server-not-found"
	ConditionInternalServerError  Condition = "internal-server-error"
)

// ErrorType classifies how the sender should react to an error.
type ErrorType string

const (
	ErrorTypeCancel ErrorType = "cancel"
	ErrorTypeWait   ErrorType = "wait"
)

// Error is the error payload carried by a stanza of TypeError.
type Error struct {
	Type      ErrorType `cbor:"type"`
	Condition Condition `cbor:"condition"`
	Text      string    `cbor:"text,omitempty"`
}

func (e *Error) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s (%s)", e.Condition, e.Type)
	}
	return fmt.Sprintf("%s (%s): %s", e.Condition, e.Type, e.Text)
}

// errorTypeFor returns the error type a condition is reported with.
func errorTypeFor(c Condition) ErrorType {
	switch c {
	case ConditionRecipientUnavailable:
		return ErrorTypeWait
	default:
		return ErrorTypeCancel
	}
}

// NewErrorReply builds the error stanza returned to the sender of original.
// From and To are swapped, the ID and payload are kept so the sender can
// correlate the reply.
func NewErrorReply(original *Stanza, condition Condition, text string) *Stanza {
	return &Stanza{
		ID:      original.ID,
		Type:    TypeError,
		From:    original.To,
		To:      original.From,
		Payload: original.Payload,
		Error: &Error{
			Type:      errorTypeFor(condition),
			Condition: condition,
			Text:      text,
		},
	}
}
