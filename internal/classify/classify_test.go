package classify

import (
	"reflect"
	"testing"

	"github.com/Napageneral/recall/internal/schema"
)

func conv(id string, isGroup bool, chatType schema.ChatType, username string) *schema.Record {
	return &schema.Record{
		Metadata: schema.Metadata{
			ID:       schema.FlexID(id),
			IsGroup:  isGroup,
			ChatType: chatType,
			Username: username,
		},
		Messages: map[string]schema.Message{},
	}
}

func TestTypes(t *testing.T) {
	tests := []struct {
		name string
		rec  *schema.Record
		want []string
	}{
		{"personal", conv("1", false, schema.ChatTypePrivate, "alice"), []string{TypePersonal}},
		{"bot", conv("2", false, schema.ChatTypePrivate, "WeatherBot"), []string{TypePersonal, TypeBot}},
		{"lowercase bot suffix", conv("3", false, schema.ChatTypeGroup, "newsbot"), []string{TypeBot}},
		{"private group", conv("4", true, schema.ChatTypeGroup, ""), []string{TypePrivateGroup}},
		{"channel", conv("5", true, schema.ChatTypeChannel, ""), nil},
		{"empty username never bot", conv("6", true, schema.ChatTypeChannel, ""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Types(&tt.rec.Metadata)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Types() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterInitial(t *testing.T) {
	personal := conv("1", false, schema.ChatTypePrivate, "alice")
	bot := conv("2", false, schema.ChatTypePrivate, "StatusBot")
	group := conv("3", true, schema.ChatTypeGroup, "")
	channel := conv("4", true, schema.ChatTypeChannel, "")

	kept := Filter([]*schema.Record{personal, bot, group, channel}, ModeInitial)

	if len(kept) != 3 {
		t.Fatalf("kept %d conversations, want 3", len(kept))
	}
	for _, rec := range kept {
		if rec.Metadata.ID == "4" {
			t.Error("channel must be filtered out in initial mode")
		}
		if len(rec.Metadata.ConversationTypes) == 0 {
			t.Errorf("conversation %s kept without stamped types", rec.Metadata.ID)
		}
	}
	if !reflect.DeepEqual(bot.Metadata.ConversationTypes, []string{TypePersonal, TypeBot}) {
		t.Errorf("bot types = %v", bot.Metadata.ConversationTypes)
	}
}

func TestFilterAll(t *testing.T) {
	batch := []*schema.Record{
		conv("1", true, schema.ChatTypeChannel, ""),
		conv("2", false, schema.ChatTypePrivate, "alice"),
	}
	kept := Filter(batch, ModeAll)
	if len(kept) != 2 {
		t.Errorf("kept %d conversations, want all 2", len(kept))
	}
	if len(batch[0].Metadata.ConversationTypes) != 0 {
		t.Error("ModeAll must not stamp types")
	}
}

func TestFilterUnknownModeFailsOpen(t *testing.T) {
	batch := []*schema.Record{
		conv("1", true, schema.ChatTypeChannel, ""),
	}
	kept := Filter(batch, Mode("bogus"))
	if len(kept) != 1 {
		t.Errorf("unknown mode kept %d conversations, want passthrough", len(kept))
	}
}
