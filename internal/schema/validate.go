package schema

import "fmt"

// Error reports a record that fails structural validation.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

// Validate checks the required top-level keys, the required per-message keys
// and the type constraints of a record. It returns a *Error describing the
// first violation found.
func Validate(r *Record) error {
	if r == nil {
		return &Error{Field: "record", Reason: "record is nil"}
	}
	if r.Metadata.ID == "" {
		return &Error{Field: "metadata.id", Reason: "required"}
	}
	switch r.Metadata.ChatType {
	case "", ChatTypePrivate, ChatTypeGroup, ChatTypeChannel:
	default:
		return &Error{
			Field:  "metadata.chat_type",
			Reason: fmt.Sprintf("must be one of private, group, channel; got %q", r.Metadata.ChatType),
		}
	}
	if r.Metadata.LastUpdated != "" {
		if _, err := ParseDate(r.Metadata.LastUpdated); err != nil {
			return &Error{Field: "metadata.last_updated", Reason: err.Error()}
		}
	}
	if r.Metadata.LastMessage != nil && r.Metadata.LastMessage.Date != "" {
		if _, err := ParseDate(r.Metadata.LastMessage.Date); err != nil {
			return &Error{Field: "metadata.last_message.date", Reason: err.Error()}
		}
	}
	if r.Messages == nil {
		return &Error{Field: "messages", Reason: "required"}
	}
	for id, msg := range r.Messages {
		if id == "" {
			return &Error{Field: "messages", Reason: "empty message id"}
		}
		if msg.SenderID == "" {
			return &Error{Field: "messages." + id + ".sender_id", Reason: "required"}
		}
		if msg.Date == "" {
			return &Error{Field: "messages." + id + ".date", Reason: "required"}
		}
		if _, err := ParseDate(msg.Date); err != nil {
			return &Error{Field: "messages." + id + ".date", Reason: err.Error()}
		}
	}
	return nil
}
