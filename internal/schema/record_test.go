package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

func validRecord() *Record {
	return &Record{
		Metadata: Metadata{
			ID:       "12345",
			Name:     "Alice",
			Username: "alice_w",
			ChatType: ChatTypePrivate,
			LastMessage: &MessageSummary{
				ID:   "7",
				Text: "see you there",
				Date: "2025-06-01T10:07:00Z",
			},
			LastUpdated: "2025-06-01T10:08:00Z",
		},
		Messages: map[string]Message{
			"6": {
				SenderID: "999",
				Text:     "lunch tomorrow?",
				Date:     "2025-06-01T10:06:00Z",
				Outgoing: true,
			},
			"7": {
				SenderID:   "12345",
				SenderName: "Alice",
				Text:       "see you there",
				Date:       "2025-06-01T10:07:00Z",
				ReplyToID:  "6",
				Reactions: []Reaction{
					{Emoji: "👍", Count: 1, ReactorIDs: []FlexID{"999"}},
				},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	rec := validRecord()

	for _, pretty := range []bool{false, true} {
		data, err := Marshal(rec, pretty)
		if err != nil {
			t.Fatalf("marshal (pretty=%v): %v", pretty, err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal (pretty=%v): %v", pretty, err)
		}
		if !reflect.DeepEqual(rec, got) {
			t.Errorf("round trip mismatch (pretty=%v):\nwant %+v\ngot  %+v", pretty, rec, got)
		}
	}
}

func TestFlexIDAcceptsStringAndInteger(t *testing.T) {
	tests := []struct {
		raw  string
		want FlexID
	}{
		{`"abc"`, "abc"},
		{`"123"`, "123"},
		{`123`, "123"},
		{`-42`, "-42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexID
		if err := json.Unmarshal([]byte(tt.raw), &f); err != nil {
			t.Errorf("unmarshal %s: %v", tt.raw, err)
			continue
		}
		if f != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.raw, f, tt.want)
		}
	}

	var f FlexID
	if err := json.Unmarshal([]byte(`1.5`), &f); err == nil {
		t.Error("expected error for non-integer numeric id")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"missing id", func(r *Record) { r.Metadata.ID = "" }, "metadata.id"},
		{"nil messages", func(r *Record) { r.Messages = nil }, "messages"},
		{"bad chat type", func(r *Record) { r.Metadata.ChatType = "broadcast" }, "metadata.chat_type"},
		{"bad last updated", func(r *Record) { r.Metadata.LastUpdated = "yesterday" }, "metadata.last_updated"},
		{
			"message missing sender",
			func(r *Record) {
				m := r.Messages["6"]
				m.SenderID = ""
				r.Messages["6"] = m
			},
			"messages.6.sender_id",
		},
		{
			"message missing date",
			func(r *Record) {
				m := r.Messages["6"]
				m.Date = ""
				r.Messages["6"] = m
			},
			"messages.6.date",
		},
		{
			"message bad date",
			func(r *Record) {
				m := r.Messages["6"]
				m.Date = "06/01/2025"
				r.Messages["6"] = m
			},
			"messages.6.date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			err := Validate(rec)
			if err == nil {
				t.Fatal("expected validation error")
			}
			schemaErr, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *schema.Error, got %T", err)
			}
			if schemaErr.Field != tt.field {
				t.Errorf("field = %q, want %q", schemaErr.Field, tt.field)
			}
		})
	}

	if err := Validate(validRecord()); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

func TestMarshalValidatesFirst(t *testing.T) {
	rec := validRecord()
	rec.Metadata.ID = ""
	if _, err := Marshal(rec, false); err == nil {
		t.Fatal("expected marshal of invalid record to fail")
	}
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	tests := []string{
		`{`,
		`{"metadata": {"id": "1"}}`,
		`{"messages": {}}`,
		`{"metadata": {"id": "1"}, "messages": {"5": {"text": "hi", "date": "2025-06-01T10:00:00Z"}}}`,
	}
	for _, raw := range tests {
		if _, err := Unmarshal([]byte(raw)); err == nil {
			t.Errorf("expected schema error for %s", raw)
		}
	}
}

func TestParseDateLayouts(t *testing.T) {
	ok := []string{
		"2025-06-01T10:00:00Z",
		"2025-06-01T10:00:00+02:00",
		"2025-06-01T10:00:00.123Z",
		"2025-06-01T10:00:00",
		"2025-06-01 10:00:00",
	}
	for _, s := range ok {
		if _, err := ParseDate(s); err != nil {
			t.Errorf("ParseDate(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseDate("June 1st"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}
