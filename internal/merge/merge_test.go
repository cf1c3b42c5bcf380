package merge_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/Napageneral/recall/internal/merge"
	"github.com/Napageneral/recall/internal/schema"
	"github.com/Napageneral/recall/internal/testutil"
)

var mergeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyInsertsNewMessages(t *testing.T) {
	rec := testutil.Record("100", map[string]schema.Message{
		"1": testutil.Message("100", "old", 0),
	})

	res := merge.Apply(rec, []merge.IncomingMessage{
		{ID: "2", Message: testutil.Message("100", "new", 5)},
		{ID: "3", Message: testutil.Message("999", "newer", 10)},
	}, mergeNow)

	if res.Added != 2 || res.Replaced != 0 || res.Skipped != 0 {
		t.Fatalf("result = %+v, want 2 added", res)
	}
	if len(rec.Messages) != 3 {
		t.Fatalf("record has %d messages, want 3", len(rec.Messages))
	}
	if rec.Metadata.LastMessage == nil || rec.Metadata.LastMessage.ID != "3" {
		t.Errorf("last_message = %+v, want id 3", rec.Metadata.LastMessage)
	}
	if rec.Metadata.LastUpdated != schema.FormatDate(mergeNow) {
		t.Errorf("last_updated = %s", rec.Metadata.LastUpdated)
	}
}

func TestApplyEditDetection(t *testing.T) {
	base := testutil.Message("100", "original", 10)

	tests := []struct {
		name     string
		incoming schema.Message
		wantText string
		replaced bool
	}{
		{"older duplicate discarded", testutil.Message("100", "stale edit", 5), "original", false},
		{"equal timestamp discarded", testutil.Message("100", "same-time edit", 10), "original", false},
		{"strictly newer replaces", testutil.Message("100", "newer edit", 15), "newer edit", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.Record("100", map[string]schema.Message{"1": base})
			res := merge.Apply(rec, []merge.IncomingMessage{{ID: "1", Message: tt.incoming}}, mergeNow)

			if got := rec.Messages["1"].Text; got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
			if tt.replaced && res.Replaced != 1 {
				t.Errorf("result = %+v, want 1 replaced", res)
			}
			if !tt.replaced && res.Skipped != 1 {
				t.Errorf("result = %+v, want 1 skipped", res)
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	batch := []merge.IncomingMessage{
		{ID: "1", Message: testutil.Message("100", "a", 0)},
		{ID: "2", Message: testutil.Message("100", "b", 5)},
	}

	once := testutil.Record("100", nil)
	merge.Apply(once, batch, mergeNow)

	twice := testutil.Record("100", nil)
	merge.Apply(twice, batch, mergeNow)
	merge.Apply(twice, batch, mergeNow)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("replaying a batch changed the record:\nonce  %+v\ntwice %+v", once, twice)
	}
}

func TestApplyNeverLosesMessages(t *testing.T) {
	rec := testutil.Record("100", map[string]schema.Message{
		"1": testutil.Message("100", "keep me", 0),
		"2": testutil.Message("100", "me too", 1),
	})

	merge.Apply(rec, []merge.IncomingMessage{
		{ID: "3", Message: testutil.Message("100", "fresh", 2)},
	}, mergeNow)

	for _, id := range []string{"1", "2", "3"} {
		if _, ok := rec.Messages[id]; !ok {
			t.Errorf("message %s lost after merge", id)
		}
	}
}

func TestApplySkipsMalformedMessages(t *testing.T) {
	rec := testutil.Record("100", nil)

	res := merge.Apply(rec, []merge.IncomingMessage{
		{ID: "", Message: testutil.Message("100", "no id", 0)},
		{ID: "2", Message: schema.Message{SenderID: "100", Text: "no date"}},
		{ID: "3", Message: schema.Message{SenderID: "100", Text: "bad date", Date: "garbage"}},
		{ID: "4", Message: testutil.Message("100", "fine", 1)},
	}, mergeNow)

	if res.Skipped != 3 || res.Added != 1 {
		t.Fatalf("result = %+v, want 3 skipped and 1 added", res)
	}
	if len(rec.Messages) != 1 {
		t.Errorf("record has %d messages, want 1", len(rec.Messages))
	}
}

func TestPlanFullFetchWhenAbsentOrEmpty(t *testing.T) {
	st := testutil.TempStore(t)

	plan, err := merge.Plan(st, "missing", merge.CursorByDate)
	if err != nil {
		t.Fatalf("plan missing: %v", err)
	}
	if plan.Mode != merge.FetchFull {
		t.Errorf("mode for absent record = %s, want full", plan.Mode)
	}

	empty := testutil.Record("100", nil)
	if err := st.Save(empty, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	plan, err = merge.Plan(st, "100", merge.CursorByDate)
	if err != nil {
		t.Fatalf("plan empty: %v", err)
	}
	if plan.Mode != merge.FetchFull {
		t.Errorf("mode for empty record = %s, want full", plan.Mode)
	}
}

func TestPlanDateCursor(t *testing.T) {
	st := testutil.TempStore(t)
	rec := testutil.Record("100", map[string]schema.Message{
		"1": testutil.Message("100", "a", 5),
		"2": testutil.Message("100", "b", 30),
		"3": testutil.Message("100", "c", 10),
	})
	if err := st.Save(rec, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	plan, err := merge.Plan(st, "100", merge.CursorByDate)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Mode != merge.FetchIncremental {
		t.Fatalf("mode = %s, want incremental", plan.Mode)
	}
	want, _ := schema.ParseDate("2025-06-01T10:30:00Z")
	if !plan.Since.Equal(want) {
		t.Errorf("since = %v, want %v", plan.Since, want)
	}
}

func TestPlanIDCursor(t *testing.T) {
	st := testutil.TempStore(t)
	rec := testutil.Record("100", map[string]schema.Message{
		"9":  testutil.Message("100", "a", 0),
		"10": testutil.Message("100", "b", 1),
		"2":  testutil.Message("100", "c", 2),
	})
	if err := st.Save(rec, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	plan, err := merge.Plan(st, "100", merge.CursorByID)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Mode != merge.FetchIncremental {
		t.Fatalf("mode = %s, want incremental", plan.Mode)
	}
	// Numeric comparison: "10" beats "9" even though "9" sorts later as a string.
	if plan.MinID != "10" {
		t.Errorf("min id = %s, want 10", plan.MinID)
	}
	want, _ := schema.ParseDate("2025-06-01T10:01:00Z")
	if !plan.MinIDDate.Equal(want) {
		t.Errorf("min id date = %v, want %v", plan.MinIDDate, want)
	}
}
