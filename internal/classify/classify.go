// Package classify tags conversations with semantic types derived from their
// metadata and filters an ingested batch down to the configured subset before
// storage. The tags are derived, never authoritative.
package classify

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Napageneral/recall/internal/schema"
)

// Conversation types stamped into metadata.conversation_types.
const (
	TypePersonal     = "personal"
	TypeBot          = "bot"
	TypePrivateGroup = "private_group"
)

// Mode selects the filtering behavior for a batch.
type Mode string

const (
	// ModeAll passes every conversation through unchanged.
	ModeAll Mode = "all"
	// ModeInitial keeps only conversations matching at least one
	// classification and stamps the matched types.
	ModeInitial Mode = "initial"
)

// IsPersonal reports a direct one-on-one conversation.
func IsPersonal(m *schema.Metadata) bool {
	return !m.IsGroup && m.ChatType == schema.ChatTypePrivate
}

// IsBot reports an automated counterpart, recognized by the conventional
// case-insensitive "bot" handle suffix.
func IsBot(m *schema.Metadata) bool {
	return m.Username != "" && strings.HasSuffix(strings.ToLower(m.Username), "bot")
}

// IsPrivateGroup reports a private multi-party conversation, excluding
// broadcast channels.
func IsPrivateGroup(m *schema.Metadata) bool {
	return m.IsGroup && m.ChatType != schema.ChatTypeChannel
}

// Types returns every classification the conversation matches.
func Types(m *schema.Metadata) []string {
	var types []string
	if IsPersonal(m) {
		types = append(types, TypePersonal)
	}
	if IsBot(m) {
		types = append(types, TypeBot)
	}
	if IsPrivateGroup(m) {
		types = append(types, TypePrivateGroup)
	}
	return types
}

// Filter reduces a batch according to mode. ModeInitial keeps conversations
// matching at least one classification and stamps the matched types into
// metadata. An unknown mode fails open: the batch passes through unchanged
// with a configuration warning.
func Filter(records []*schema.Record, mode Mode) []*schema.Record {
	switch mode {
	case ModeAll:
		return records
	case ModeInitial:
		kept := make([]*schema.Record, 0, len(records))
		for _, rec := range records {
			types := Types(&rec.Metadata)
			if len(types) == 0 {
				continue
			}
			rec.Metadata.ConversationTypes = types
			kept = append(kept, rec)
		}
		return kept
	default:
		log.Warn().Str("mode", string(mode)).
			Msg("unknown filter mode, passing all conversations through")
		return records
	}
}
