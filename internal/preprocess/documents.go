// Package preprocess turns stored conversation records into standardized
// documents for the downstream embedding stage. The fine-grained mode emits
// one document per message with neighbor context; the coarser mode groups
// messages into time-bounded windows and splits oversized windows into
// overlapping chunks.
package preprocess

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Napageneral/recall/internal/schema"
)

const (
	// DefaultContextWindow is how many neighbor message ids a document
	// carries in each direction.
	DefaultContextWindow = 5
	// replyPreviewLen bounds the reply-to text preview.
	replyPreviewLen = 100
)

// SourceMessage is one message with its conversation context attached,
// flattened out of a stored record.
type SourceMessage struct {
	ID               string
	ConversationID   string
	ConversationName string
	IsGroup          bool
	ChatType         schema.ChatType
	Source           string
	Message          schema.Message
}

// Document is the standardized {id, text, metadata} unit handed to the
// embedding stage. Immutable once emitted.
type Document struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata carries everything downstream context assembly needs.
type DocumentMetadata struct {
	Source       string          `json:"source"`
	ChatID       string          `json:"chat_id"`
	ChatName     string          `json:"chat_name,omitempty"`
	IsGroup      bool            `json:"is_group"`
	ChatType     schema.ChatType `json:"chat_type,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	SenderID     string          `json:"sender_id"`
	SenderName   string          `json:"sender_name,omitempty"`
	IsSelf       bool            `json:"is_self"`
	PrecedingIDs []string        `json:"preceding_ids,omitempty"`
	FollowingIDs []string        `json:"following_ids,omitempty"`
	ReplyTo      *ReplySummary   `json:"reply_to,omitempty"`
}

// ReplySummary is the resolved target of a reply, when the target message is
// found within the neighbor window.
type ReplySummary struct {
	MessageID   string `json:"message_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	TextPreview string `json:"text_preview,omitempty"`
}

// Options configures document construction.
type Options struct {
	// SelfID is the operator's own sender id for is_self tagging. When
	// empty, the message's outgoing flag is used instead.
	SelfID string
	// ContextWindow overrides DefaultContextWindow when positive.
	ContextWindow int
}

func (o Options) contextWindow() int {
	if o.ContextWindow > 0 {
		return o.ContextWindow
	}
	return DefaultContextWindow
}

// FromRecord flattens a stored record into source messages.
func FromRecord(source string, rec *schema.Record) []SourceMessage {
	msgs := make([]SourceMessage, 0, len(rec.Messages))
	for id, msg := range rec.Messages {
		msgs = append(msgs, SourceMessage{
			ID:               id,
			ConversationID:   rec.Metadata.ID.String(),
			ConversationName: rec.Metadata.Name,
			IsGroup:          rec.Metadata.IsGroup,
			ChatType:         rec.Metadata.ChatType,
			Source:           source,
			Message:          msg,
		})
	}
	return msgs
}

// BuildDocuments groups messages by conversation, orders each group
// chronologically and emits one document per message carrying up to
// ContextWindow preceding and following message ids plus a resolved reply
// target when it falls inside that window.
func BuildDocuments(msgs []SourceMessage, opts Options) []Document {
	window := opts.contextWindow()
	docs := make([]Document, 0, len(msgs))

	for _, group := range groupByConversation(msgs) {
		for i, sm := range group {
			meta := DocumentMetadata{
				Source:     sm.Source,
				ChatID:     sm.ConversationID,
				ChatName:   sm.ConversationName,
				IsGroup:    sm.IsGroup,
				ChatType:   sm.ChatType,
				Timestamp:  messageUnix(sm.Message),
				SenderID:   sm.Message.SenderID.String(),
				SenderName: sm.Message.SenderName,
				IsSelf:     isSelf(sm.Message, opts.SelfID),
			}

			for j := max(0, i-window); j < i; j++ {
				meta.PrecedingIDs = append(meta.PrecedingIDs, group[j].ID)
			}
			for j := i + 1; j <= min(len(group)-1, i+window); j++ {
				meta.FollowingIDs = append(meta.FollowingIDs, group[j].ID)
			}

			if replyID := sm.Message.ReplyToID.String(); replyID != "" {
				meta.ReplyTo = resolveReply(group, i, window, replyID)
			}

			docs = append(docs, Document{
				ID:       fmt.Sprintf("%s:%s:%s", sm.Source, sm.ConversationID, sm.ID),
				Text:     documentText(sm.Message),
				Metadata: meta,
			})
		}
	}
	return docs
}

// documentText is the message text with a bracketed media suffix when the
// message carries an attachment.
func documentText(msg schema.Message) string {
	if msg.MediaType == "" {
		return msg.Text
	}
	if msg.Text == "" {
		return fmt.Sprintf("[media: %s]", msg.MediaType)
	}
	return fmt.Sprintf("%s [media: %s]", msg.Text, msg.MediaType)
}

// resolveReply looks for the reply target among the neighbor window around
// index i and summarizes it when found.
func resolveReply(group []SourceMessage, i, window int, replyID string) *ReplySummary {
	lo := max(0, i-window)
	hi := min(len(group)-1, i+window)
	for j := lo; j <= hi; j++ {
		if j == i || group[j].ID != replyID {
			continue
		}
		target := group[j].Message
		return &ReplySummary{
			MessageID:   replyID,
			SenderID:    target.SenderID.String(),
			SenderName:  target.SenderName,
			TextPreview: truncate(target.Text, replyPreviewLen),
		}
	}
	return nil
}

func isSelf(msg schema.Message, selfID string) bool {
	if selfID != "" {
		return msg.SenderID.String() == selfID
	}
	return msg.Outgoing
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func messageUnix(msg schema.Message) int64 {
	t, err := schema.ParseDate(msg.Date)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// groupByConversation splits messages per conversation and sorts each group
// chronologically, breaking date ties by id so ordering is deterministic.
func groupByConversation(msgs []SourceMessage) [][]SourceMessage {
	byConv := make(map[string][]SourceMessage)
	order := []string{}
	for _, m := range msgs {
		if _, ok := byConv[m.ConversationID]; !ok {
			order = append(order, m.ConversationID)
		}
		byConv[m.ConversationID] = append(byConv[m.ConversationID], m)
	}

	groups := make([][]SourceMessage, 0, len(order))
	for _, conv := range order {
		group := byConv[conv]
		sort.SliceStable(group, func(i, j int) bool {
			ti := messageUnix(group[i].Message)
			tj := messageUnix(group[j].Message)
			if ti != tj {
				return ti < tj
			}
			return messageIDLess(group[i].ID, group[j].ID)
		})
		groups = append(groups, group)
	}
	return groups
}

func messageIDLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func messageTime(msg schema.Message) time.Time {
	t, err := schema.ParseDate(msg.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}
