// Package schema defines the canonical on-disk conversation record and its
// validation rules. Every record that enters or leaves the file store passes
// through Marshal/Unmarshal here, so an invalid record can never be persisted
// and malformed input never surfaces as a silent partial record.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ChatType classifies a conversation by its platform semantics.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// FlexID is an identifier that upstream platforms encode either as a JSON
// string or as a JSON integer. It always normalizes to a string.
type FlexID string

// UnmarshalJSON accepts both "123" and 123.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or integer: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be a string or integer, got %s", n.String())
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

// Record is the unit of persistence: one conversation with its message map.
type Record struct {
	Metadata Metadata           `json:"metadata"`
	Messages map[string]Message `json:"messages"`
}

// Metadata carries the conversation-level state. ID is immutable once
// assigned; LastUpdated is monotonically non-decreasing across writes.
type Metadata struct {
	ID                FlexID          `json:"id"`
	Name              string          `json:"name,omitempty"`
	Username          string          `json:"username,omitempty"`
	IsGroup           bool            `json:"is_group"`
	ChatType          ChatType        `json:"chat_type,omitempty"`
	LastMessage       *MessageSummary `json:"last_message,omitempty"`
	LastUpdated       string          `json:"last_updated,omitempty"`
	UnreadCount       int             `json:"unread_count,omitempty"`
	ConversationTypes []string        `json:"conversation_types,omitempty"`
	Participants      []Participant   `json:"participants,omitempty"`
}

// MessageSummary is the denormalized "latest message" pointer kept in metadata.
type MessageSummary struct {
	ID   FlexID `json:"id"`
	Text string `json:"text,omitempty"`
	Date string `json:"date,omitempty"`
}

// Participant is one member of a multi-party conversation.
type Participant struct {
	ID        FlexID `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Message is one message inside a record. The message id is the map key in
// Record.Messages, not a field here.
type Message struct {
	SenderID      FlexID          `json:"sender_id"`
	SenderName    string          `json:"sender_name,omitempty"`
	Text          string          `json:"text"`
	Date          string          `json:"date"`
	Outgoing      bool            `json:"outgoing,omitempty"`
	ReplyToID     FlexID          `json:"reply_to_id,omitempty"`
	MediaType     string          `json:"media_type,omitempty"`
	MediaPath     string          `json:"media_path,omitempty"`
	Entities      []Entity        `json:"entities,omitempty"`
	Reactions     []Reaction      `json:"reactions,omitempty"`
	ForwardedFrom string          `json:"forwarded_from,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Entity is a rich-text span (link, mention, hashtag, ...).
type Entity struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Reaction aggregates one emoji's reactions on a message.
type Reaction struct {
	Emoji      string   `json:"emoji"`
	Count      int      `json:"count"`
	ReactorIDs []FlexID `json:"reactor_ids,omitempty"`
}

// dateLayouts are the ISO-8601 shapes the upstream exports actually produce.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate parses an ISO-8601 message date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s)
}

// FormatDate renders a timestamp in the canonical record date format.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Marshal validates the record and serializes it. Validation runs first so an
// invalid record can never be written.
func Marshal(r *Record, pretty bool) ([]byte, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	if pretty {
		return json.MarshalIndent(r, "", "  ")
	}
	return json.Marshal(r)
}

// Unmarshal parses and then validates, so malformed input surfaces as a
// schema error rather than a partially populated record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &Error{Field: "record", Reason: err.Error()}
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
