// Package merge folds freshly fetched message batches into persisted
// conversation records without duplication, and derives the per-conversation
// cursor a scheduler uses to decide between full and incremental fetches.
package merge

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Napageneral/recall/internal/schema"
)

// IncomingMessage is one freshly fetched message. The id travels alongside
// the message because the record keys its message map by id.
type IncomingMessage struct {
	ID      string
	Message schema.Message
}

// Result reports how a batch was folded into a record.
type Result struct {
	Added    int
	Replaced int
	Skipped  int
}

// Apply merges incoming messages into rec. A new id is inserted; an existing
// id is replaced only when the incoming message is strictly newer, so edits
// propagate while an older or equal-timestamp duplicate is always discarded.
// Malformed messages (missing id or date) are skipped and logged,
// never fatal to the batch. Existing messages are never lost, and replaying
// the same batch twice yields the same record.
//
// Metadata.LastMessage is recomputed from the merged map and LastUpdated is
// set to now unconditionally: it records "last time we checked", not "last
// time content changed".
func Apply(rec *schema.Record, incoming []IncomingMessage, now time.Time) Result {
	var res Result
	if rec.Messages == nil {
		rec.Messages = make(map[string]schema.Message, len(incoming))
	}

	for _, in := range incoming {
		if in.ID == "" || in.Message.Date == "" {
			log.Warn().
				Str("conversation", rec.Metadata.ID.String()).
				Str("message_id", in.ID).
				Msg("skipping malformed incoming message")
			res.Skipped++
			continue
		}
		incomingDate, err := schema.ParseDate(in.Message.Date)
		if err != nil {
			log.Warn().
				Str("conversation", rec.Metadata.ID.String()).
				Str("message_id", in.ID).
				Str("date", in.Message.Date).
				Msg("skipping incoming message with unparsable date")
			res.Skipped++
			continue
		}

		existing, ok := rec.Messages[in.ID]
		if !ok {
			rec.Messages[in.ID] = in.Message
			res.Added++
			continue
		}

		existingDate, err := schema.ParseDate(existing.Date)
		if err == nil && !incomingDate.After(existingDate) {
			res.Skipped++
			continue
		}
		rec.Messages[in.ID] = in.Message
		res.Replaced++
	}

	refreshLastMessage(rec)
	rec.Metadata.LastUpdated = schema.FormatDate(now)
	return res
}

// refreshLastMessage points metadata at the newest message by date.
func refreshLastMessage(rec *schema.Record) {
	var (
		bestID   string
		bestDate time.Time
		found    bool
	)
	for id, msg := range rec.Messages {
		t, err := schema.ParseDate(msg.Date)
		if err != nil {
			continue
		}
		if !found || t.After(bestDate) || (t.Equal(bestDate) && idLess(bestID, id)) {
			bestID = id
			bestDate = t
			found = true
		}
	}
	if !found {
		return
	}
	msg := rec.Messages[bestID]
	rec.Metadata.LastMessage = &schema.MessageSummary{
		ID:   schema.FlexID(bestID),
		Text: msg.Text,
		Date: msg.Date,
	}
}
