// Package pipeline drives one ingestion cycle per source: consult the cursor
// state, fetch through an external ingestor, classify and filter the batch,
// merge into the file store, preprocess into documents for the downstream
// sink, mark conversations processed and advance the cursor. Conversations
// are processed independently; one failure never aborts the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Napageneral/recall/internal/classify"
	"github.com/Napageneral/recall/internal/config"
	"github.com/Napageneral/recall/internal/merge"
	"github.com/Napageneral/recall/internal/preprocess"
	"github.com/Napageneral/recall/internal/schema"
	"github.com/Napageneral/recall/internal/state"
	"github.com/Napageneral/recall/internal/store"
)

// Batch is one conversation's worth of freshly fetched data: its current
// upstream metadata plus the raw messages, already normalized into the
// record schema by the ingestor.
type Batch struct {
	Record   *schema.Record
	Messages []merge.IncomingMessage
}

// SourceFetch tells an ingestor what to fetch for a whole source. Mode is
// derived from the source's cursor entry; Since is zero for a full fetch.
type SourceFetch struct {
	Mode  merge.FetchMode
	Since time.Time
}

// Ingestor is the external collaborator that talks to a platform API.
type Ingestor interface {
	Name() string
	Fetch(ctx context.Context, req SourceFetch) ([]Batch, error)
}

// Sink receives standardized documents; the embedding stage lives behind it.
type Sink interface {
	Store(ctx context.Context, docs []preprocess.Document) error
}

// Runner wires the stores and policies together for pipeline runs.
type Runner struct {
	Store  *store.Store
	State  *state.Manager
	Sink   Sink
	Filter classify.Mode

	// Strategy picks the per-conversation cursor style offered to
	// ingestors that paginate per conversation. Defaults to CursorByDate.
	Strategy merge.CursorStrategy

	Preprocess preprocess.Options

	// Chunking switches document construction to time-window transcripts
	// when Gap is positive; the zero value keeps one document per message.
	Chunking Chunking
}

// Chunking holds the window/chunk parameters for transcript documents.
type Chunking struct {
	Gap         time.Duration
	MaxMessages int
	Overlap     bool
}

// NewRunner assembles a runner from the operator configuration.
func NewRunner(cfg config.Config, st *store.Store, mgr *state.Manager, sink Sink) *Runner {
	r := &Runner{
		Store:      st,
		State:      mgr,
		Sink:       sink,
		Filter:     classify.Mode(cfg.FilterMode),
		Preprocess: preprocess.Options{SelfID: cfg.SelfID},
	}
	if cfg.DocumentMode == config.DocumentModeChunk {
		r.Chunking = Chunking{
			Gap:         cfg.ChunkGap(),
			MaxMessages: cfg.MaxMessagesPerChunk,
			Overlap:     cfg.ChunkOverlap,
		}
	}
	return r
}

// Result is what a single source run reports back to the scheduler.
type Result struct {
	RunID              string        `json:"run_id"`
	Source             string        `json:"source"`
	Success            bool          `json:"success"`
	DocumentsProcessed int           `json:"documents_processed"`
	Errors             []string      `json:"errors,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// PlanConversation exposes the merge engine's per-conversation cursor to
// ingestors whose APIs paginate by conversation.
func (r *Runner) PlanConversation(conversationID string) (merge.FetchPlan, error) {
	strategy := r.Strategy
	if strategy == "" {
		strategy = merge.CursorByDate
	}
	return merge.Plan(r.Store, conversationID, strategy)
}

// RunSource executes one ingestion cycle for a source. Lock timeouts and IO
// errors land in the result's error list; the caller retries next cycle.
func (r *Runner) RunSource(ctx context.Context, ing Ingestor) Result {
	start := time.Now()
	res := Result{
		RunID:  uuid.NewString(),
		Source: ing.Name(),
	}

	entry, err := r.State.Register(ctx, ing.Name())
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Duration = time.Since(start)
		return res
	}

	fetch := SourceFetch{Mode: merge.FetchFull}
	if entry.LastTimestamp > 0 {
		fetch.Mode = merge.FetchIncremental
		fetch.Since = time.Unix(entry.LastTimestamp, 0).UTC()
	}

	batches, err := ing.Fetch(ctx, fetch)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch: %v", err))
		res.Duration = time.Since(start)
		return res
	}

	batches = r.filterBatches(batches)

	var maxSeen int64
	for _, batch := range batches {
		seen, docs, convErr := r.processConversation(ctx, ing.Name(), batch)
		if convErr != nil {
			res.Errors = append(res.Errors, convErr.Error())
			continue
		}
		res.DocumentsProcessed += docs
		if seen > maxSeen {
			maxSeen = seen
		}
	}

	if len(batches) == 0 {
		// No-op run: record last_run without moving the cursor.
		if err := r.State.Touch(ctx, ing.Name()); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	} else if err := r.advance(ctx, ing.Name(), maxSeen, res.DocumentsProcessed); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	res.Success = len(res.Errors) == 0
	res.Duration = time.Since(start)
	log.Info().
		Str("run_id", res.RunID).
		Str("source", res.Source).
		Bool("success", res.Success).
		Int("documents", res.DocumentsProcessed).
		Int("errors", len(res.Errors)).
		Dur("duration", res.Duration).
		Msg("ingestion run finished")
	return res
}

// RunAll runs every source concurrently as independent tasks. Per-source
// failures are reported in the results, not returned.
func (r *Runner) RunAll(ctx context.Context, ingestors []Ingestor) []Result {
	results := make([]Result, len(ingestors))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, ing := range ingestors {
		g.Go(func() error {
			res := r.RunSource(ctx, ing)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// filterBatches applies the configured conversation filter to the fetched
// batch, keeping message batches aligned with surviving records.
func (r *Runner) filterBatches(batches []Batch) []Batch {
	mode := r.Filter
	if mode == "" {
		mode = classify.ModeAll
	}

	records := make([]*schema.Record, 0, len(batches))
	for _, b := range batches {
		records = append(records, b.Record)
	}
	kept := classify.Filter(records, mode)

	keep := make(map[*schema.Record]struct{}, len(kept))
	for _, rec := range kept {
		keep[rec] = struct{}{}
	}

	out := batches[:0]
	for _, b := range batches {
		if _, ok := keep[b.Record]; ok {
			out = append(out, b)
		}
	}
	return out
}

// processConversation merges one batch into the store, preprocesses the
// merged record and marks it processed. It returns the newest message
// timestamp seen and the number of documents emitted.
func (r *Runner) processConversation(ctx context.Context, source string, batch Batch) (int64, int, error) {
	if batch.Record == nil || batch.Record.Metadata.ID == "" {
		return 0, 0, errors.New("batch without conversation metadata")
	}
	id := batch.Record.Metadata.ID.String()

	rec, err := r.Store.Load(id, false)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return 0, 0, fmt.Errorf("conversation %s: load: %w", id, err)
		}
		rec = batch.Record
		if rec.Messages == nil {
			rec.Messages = map[string]schema.Message{}
		}
	} else {
		refreshMetadata(rec, batch.Record)
	}

	merged := merge.Apply(rec, batch.Messages, time.Now())
	log.Debug().
		Str("conversation", id).
		Int("added", merged.Added).
		Int("replaced", merged.Replaced).
		Int("skipped", merged.Skipped).
		Msg("merged batch")

	if err := r.Store.Save(rec, true); err != nil {
		return 0, 0, fmt.Errorf("conversation %s: save: %w", id, err)
	}

	docs := r.buildDocuments(source, rec)
	if r.Sink != nil && len(docs) > 0 {
		if err := r.Sink.Store(ctx, docs); err != nil {
			return 0, 0, fmt.Errorf("conversation %s: sink: %w", id, err)
		}
	}

	if err := r.markProcessed(id); err != nil {
		return 0, 0, fmt.Errorf("conversation %s: %w", id, err)
	}

	var maxSeen int64
	if rec.Metadata.LastMessage != nil {
		if t, err := schema.ParseDate(rec.Metadata.LastMessage.Date); err == nil {
			maxSeen = t.Unix()
		}
	}
	return maxSeen, len(docs), nil
}

// buildDocuments renders the merged record into sink documents using the
// configured mode.
func (r *Runner) buildDocuments(source string, rec *schema.Record) []preprocess.Document {
	msgs := preprocess.FromRecord(source, rec)
	if r.Chunking.Gap > 0 {
		windows := preprocess.SplitWindows(msgs, r.Chunking.Gap)
		chunks := preprocess.ChunkWindows(windows, r.Chunking.MaxMessages, r.Chunking.Overlap)
		return preprocess.ChunkDocuments(chunks, r.Preprocess)
	}
	return preprocess.BuildDocuments(msgs, r.Preprocess)
}

// markProcessed flips the conversation to processed, replacing a stale
// processed file left over from a previous cycle.
func (r *Runner) markProcessed(id string) error {
	err := r.Store.MarkProcessed(id)
	if errors.Is(err, store.ErrAlreadyExists) {
		if delErr := r.Store.Delete(id, store.StatusProcessed); delErr != nil {
			return delErr
		}
		return r.Store.MarkProcessed(id)
	}
	return err
}

// refreshMetadata carries upstream display fields onto the persisted record
// without ever touching the immutable id.
func refreshMetadata(dst, src *schema.Record) {
	if src.Metadata.Name != "" {
		dst.Metadata.Name = src.Metadata.Name
	}
	if src.Metadata.Username != "" {
		dst.Metadata.Username = src.Metadata.Username
	}
	dst.Metadata.IsGroup = src.Metadata.IsGroup
	if src.Metadata.ChatType != "" {
		dst.Metadata.ChatType = src.Metadata.ChatType
	}
	if src.Metadata.UnreadCount > 0 {
		dst.Metadata.UnreadCount = src.Metadata.UnreadCount
	}
	if len(src.Metadata.ConversationTypes) > 0 {
		dst.Metadata.ConversationTypes = src.Metadata.ConversationTypes
	}
	if len(src.Metadata.Participants) > 0 {
		dst.Metadata.Participants = src.Metadata.Participants
	}
}

// advance moves the source cursor forward after a run. Even a no-op run
// records last_run; the cursor itself never moves backwards.
func (r *Runner) advance(ctx context.Context, sourceID string, maxSeen int64, documents int) error {
	return r.State.Update(ctx, sourceID, func(e *state.Entry) error {
		if maxSeen > e.LastTimestamp {
			e.LastTimestamp = maxSeen
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.Metadata["last_run"] = time.Now().Unix()
		e.Metadata["last_run_documents"] = documents
		return nil
	})
}
