package merge

import (
	"errors"
	"strconv"
	"time"

	"github.com/Napageneral/recall/internal/schema"
	"github.com/Napageneral/recall/internal/store"
)

// CursorStrategy names how the next fetch position is derived from a record.
// Upstream sources paginate either by message date or by message id; the
// ingestor picks the strategy its API supports.
type CursorStrategy string

const (
	// CursorByDate fetches messages since the latest known message date.
	CursorByDate CursorStrategy = "date"
	// CursorByID fetches messages after the highest known message id.
	CursorByID CursorStrategy = "id"
)

// FetchMode distinguishes a full historical fetch from an incremental one.
type FetchMode string

const (
	FetchFull        FetchMode = "full"
	FetchIncremental FetchMode = "incremental"
)

// FetchPlan tells an ingestor what to request for one conversation.
type FetchPlan struct {
	ConversationID string
	Mode           FetchMode
	Strategy       CursorStrategy

	// Since is set for incremental date-cursor fetches.
	Since time.Time
	// MinID and MinIDDate are set for incremental id-cursor fetches.
	MinID     string
	MinIDDate time.Time
}

// Plan decides whether a conversation needs a full or incremental fetch. A
// conversation that is absent from the store, or persisted with no messages,
// has no cursor and gets a full fetch.
func Plan(st *store.Store, conversationID string, strategy CursorStrategy) (FetchPlan, error) {
	plan := FetchPlan{
		ConversationID: conversationID,
		Mode:           FetchFull,
		Strategy:       strategy,
	}

	rec, err := st.Load(conversationID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return plan, nil
		}
		return plan, err
	}
	if len(rec.Messages) == 0 {
		return plan, nil
	}

	switch strategy {
	case CursorByID:
		id, date, ok := highestID(rec)
		if !ok {
			return plan, nil
		}
		plan.Mode = FetchIncremental
		plan.MinID = id
		plan.MinIDDate = date
	default:
		date, ok := latestDate(rec)
		if !ok {
			return plan, nil
		}
		plan.Mode = FetchIncremental
		plan.Strategy = CursorByDate
		plan.Since = date
	}
	return plan, nil
}

// latestDate returns the maximum message date present in the record.
func latestDate(rec *schema.Record) (time.Time, bool) {
	var max time.Time
	found := false
	for _, msg := range rec.Messages {
		t, err := schema.ParseDate(msg.Date)
		if err != nil {
			continue
		}
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	return max, found
}

// highestID returns the highest message id and its date. Numeric ids compare
// numerically; mixed or non-numeric ids fall back to string ordering.
func highestID(rec *schema.Record) (string, time.Time, bool) {
	var (
		bestID   string
		bestDate time.Time
		found    bool
	)
	for id, msg := range rec.Messages {
		if found && !idLess(bestID, id) {
			continue
		}
		t, err := schema.ParseDate(msg.Date)
		if err != nil {
			continue
		}
		bestID = id
		bestDate = t
		found = true
	}
	return bestID, bestDate, found
}

func idLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
