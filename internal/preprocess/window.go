package preprocess

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Window is a time-bounded run of messages within one conversation: a
// message within the gap threshold of its predecessor continues the window,
// otherwise a new window starts.
type Window struct {
	ConversationID string
	Start          time.Time
	End            time.Time
	Messages       []SourceMessage
}

// Chunk is a bounded slice of a window, emitted when a window exceeds the
// maximum message count. With overlap enabled each chunk carries the last
// message of the previous chunk so context is not lost at the boundary.
type Chunk struct {
	ID             string
	ConversationID string
	Index          int
	Start          time.Time
	End            time.Time
	Messages       []SourceMessage
}

// SplitWindows groups messages into time-bounded windows per conversation.
// gap is the threshold between consecutive messages.
func SplitWindows(msgs []SourceMessage, gap time.Duration) []Window {
	windows := []Window{}
	for _, group := range groupByConversation(msgs) {
		if len(group) == 0 {
			continue
		}
		current := Window{
			ConversationID: group[0].ConversationID,
			Start:          messageTime(group[0].Message),
			End:            messageTime(group[0].Message),
			Messages:       []SourceMessage{group[0]},
		}
		for _, sm := range group[1:] {
			ts := messageTime(sm.Message)
			if ts.Sub(current.End) > gap {
				windows = append(windows, current)
				current = Window{
					ConversationID: sm.ConversationID,
					Start:          ts,
					End:            ts,
					Messages:       []SourceMessage{sm},
				}
				continue
			}
			current.Messages = append(current.Messages, sm)
			current.End = ts
		}
		windows = append(windows, current)
	}
	return windows
}

// ChunkWindows splits oversized windows into chunks of at most maxMessages.
// With overlap enabled, every chunk after the first starts with the last
// message of the previous chunk.
func ChunkWindows(windows []Window, maxMessages int, overlap bool) []Chunk {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	step := maxMessages
	if overlap && maxMessages > 1 {
		step = maxMessages - 1
	}

	chunks := []Chunk{}
	for _, w := range windows {
		index := 0
		for start := 0; start < len(w.Messages); start += step {
			end := min(start+maxMessages, len(w.Messages))
			part := w.Messages[start:end]
			chunks = append(chunks, Chunk{
				ID:             uuid.NewString(),
				ConversationID: w.ConversationID,
				Index:          index,
				Start:          messageTime(part[0].Message),
				End:            messageTime(part[len(part)-1].Message),
				Messages:       part,
			})
			index++
			if end == len(w.Messages) {
				break
			}
		}
	}
	return chunks
}

// ChunkDocuments renders one document per chunk, joining the chunk's
// messages into a transcript-style text block.
func ChunkDocuments(chunks []Chunk, opts Options) []Document {
	docs := make([]Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Messages) == 0 {
			continue
		}
		first := c.Messages[0]

		var b strings.Builder
		for _, sm := range c.Messages {
			sender := sm.Message.SenderName
			if sender == "" {
				sender = sm.Message.SenderID.String()
			}
			fmt.Fprintf(&b, "%s: %s\n", sender, documentText(sm.Message))
		}

		docs = append(docs, Document{
			ID:   c.ID,
			Text: strings.TrimRight(b.String(), "\n"),
			Metadata: DocumentMetadata{
				Source:     first.Source,
				ChatID:     c.ConversationID,
				ChatName:   first.ConversationName,
				IsGroup:    first.IsGroup,
				ChatType:   first.ChatType,
				Timestamp:  c.Start.Unix(),
				SenderID:   first.Message.SenderID.String(),
				SenderName: first.Message.SenderName,
				IsSelf:     isSelf(first.Message, opts.SelfID),
			},
		})
	}
	return docs
}
