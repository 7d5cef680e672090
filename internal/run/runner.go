package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"zplmerge/internal/labelary"
	"zplmerge/internal/pack"
	"zplmerge/internal/pdfmerge"
	"zplmerge/internal/zpl"
)

type Strategy string

const (
	// StrategyPacked packs blocks by copy count against the renderer cap.
	StrategyPacked Strategy = "packed"
	// StrategyAdaptive sends fixed block counts and halves them on failure.
	StrategyAdaptive Strategy = "adaptive"

	DefaultInitialChunk = 10
)

var (
	ErrNoBlocks      = errors.New("no ^XA...^XZ blocks found")
	ErrAllFailed     = errors.New("no batch could be rendered")
	ErrCanceled      = errors.New("run canceled")
	ErrUnknownMethod = errors.New("unknown batching strategy")
)

// Renderer delivers one batch. labelary.Client implements it.
type Renderer interface {
	Render(ctx context.Context, req labelary.Request) labelary.Result
}

// hookable renderers forward per-attempt progress.
type hookable interface {
	SetHooks(h labelary.Hooks)
}

// Options configures a Runner.
type Options struct {
	Page         labelary.Page
	Strategy     Strategy
	ItemCap      int
	InitialChunk int
	Reporter     Reporter
	Merge        func(docs [][]byte) ([]byte, error)
	PageCount    func(doc []byte) (int, error)
}

// Runner drives one batch of labels from raw text to a merged document.
// A Runner handles one run at a time.
type Runner struct {
	renderer Renderer
	opts     Options
	now      func() time.Time
}

func New(renderer Renderer, opts Options) *Runner {
	if opts.Strategy == "" {
		opts.Strategy = StrategyPacked
	}
	if opts.ItemCap < 1 {
		opts.ItemCap = pack.DefaultItemCap
	}
	if opts.InitialChunk < 1 {
		opts.InitialChunk = DefaultInitialChunk
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Merge == nil {
		opts.Merge = pdfmerge.Merge
	}
	if opts.PageCount == nil {
		opts.PageCount = pdfmerge.PageCount
	}
	return &Runner{renderer: renderer, opts: opts, now: time.Now}
}

// state is owned by a single Run call.
type state struct {
	blocks    []zpl.Block
	documents [][]byte
	failures  []Failure
	batches   int
	estimate  int
	succeeded int
}

// Run parses raw, delivers every batch in order and merges what rendered.
// Batch failures are recorded and never stop the run. ErrNoBlocks is returned
// for input without blocks, ErrAllFailed (with the outcome) when nothing
// rendered, and a wrapped pdfmerge.ErrCorrupt when a rendered document is
// unreadable.
func (r *Runner) Run(ctx context.Context, raw []byte) (*Outcome, error) {
	st := &state{blocks: zpl.Parse(zpl.Decode(raw))}
	labels := zpl.TotalQuantity(st.blocks)
	outcome := &Outcome{Strategy: r.opts.Strategy, Blocks: len(st.blocks), Labels: labels}

	if len(st.blocks) == 0 {
		r.emit(Event{Kind: EventFinished, Message: ErrNoBlocks.Error()})
		return outcome, ErrNoBlocks
	}
	r.emit(Event{Kind: EventParsed, Labels: labels, Message: fmt.Sprintf("%d block(s) detected", len(st.blocks))})
	log.Info().Int("blocks", len(st.blocks)).Int("labels", labels).Str("strategy", string(r.opts.Strategy)).Msg("labels parsed")

	if setter, ok := r.renderer.(hookable); ok {
		setter.SetHooks(r.hooks(st))
	}

	var err error
	switch r.opts.Strategy {
	case StrategyPacked:
		err = r.runPacked(ctx, st)
	case StrategyAdaptive:
		err = r.runAdaptive(ctx, st)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, r.opts.Strategy)
	}
	outcome.Batches = st.batches
	outcome.Succeeded = st.succeeded
	outcome.Failures = st.failures
	if err != nil {
		return outcome, err
	}

	if st.succeeded == 0 {
		r.emit(Event{Kind: EventFinished, Message: ErrAllFailed.Error()})
		return outcome, ErrAllFailed
	}

	doc, err := r.opts.Merge(st.documents)
	if err != nil {
		return outcome, fmt.Errorf("merge rendered batches: %w", err)
	}
	pages, err := r.opts.PageCount(doc)
	if err != nil {
		return outcome, fmt.Errorf("count merged pages: %w", err)
	}
	outcome.Document = doc
	outcome.Pages = pages
	r.emit(Event{Kind: EventMerged, Progress: 1, Message: fmt.Sprintf("%d page(s)", pages)})
	r.emit(Event{Kind: EventFinished, Batches: st.batches, Progress: 1,
		Message: fmt.Sprintf("%d/%d batch(es) rendered, %d failure(s)", st.succeeded, st.batches, len(st.failures))})
	log.Info().Int("pages", pages).Int("batches", st.batches).Int("failures", len(st.failures)).Msg("run finished")
	return outcome, nil
}

func (r *Runner) runPacked(ctx context.Context, st *state) error {
	batches, err := pack.Pack(st.blocks, r.opts.ItemCap)
	if err != nil {
		return fmt.Errorf("pack blocks: %w", err)
	}
	st.estimate = len(batches)
	r.emit(Event{Kind: EventPlanned, Batches: len(batches), Message: fmt.Sprintf("%d batch(es) of at most %d label(s)", len(batches), r.opts.ItemCap)})

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		res := r.deliver(ctx, st, batch)
		if res.OK() {
			continue
		}
		if res.Failure.Kind == labelary.KindCanceled {
			return fmt.Errorf("%w: %s", ErrCanceled, res.Failure.Message)
		}
		st.failures = append(st.failures, newFailure(batch, res.Failure))
	}
	return nil
}

// runAdaptive sends InitialChunk blocks per call. A failed call halves the
// chunk and replans the remaining blocks; a single block that still fails is
// recorded and skipped.
func (r *Runner) runAdaptive(ctx context.Context, st *state) error {
	size := r.opts.InitialChunk
	plan, err := pack.Chunk(st.blocks, size)
	if err != nil {
		return fmt.Errorf("chunk blocks: %w", err)
	}
	st.estimate = len(plan)
	r.emit(Event{Kind: EventPlanned, Batches: st.estimate, ChunkSize: size, Message: fmt.Sprintf("about %d batch(es) of %d block(s)", st.estimate, size)})

	idx := 0
	for len(plan) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		batch := plan[0]
		batch.Index = st.batches + 1

		res := r.deliver(ctx, st, batch)
		if res.OK() {
			idx += len(batch.Items)
			plan = plan[1:]
			continue
		}
		if res.Failure.Kind == labelary.KindCanceled {
			return fmt.Errorf("%w: %s", ErrCanceled, res.Failure.Message)
		}

		if size > 1 {
			size = max(1, size/2)
			// size >= 1 here, Chunk cannot fail
			plan, _ = pack.Chunk(st.blocks[idx:], size)
			st.estimate = st.succeeded + len(plan)
			r.emit(Event{Kind: EventChunkShrunk, ChunkSize: size, Batches: st.estimate, Progress: st.progress(),
				Message: fmt.Sprintf("batch failed, retrying with %d block(s) per batch", size)})
			log.Warn().Int("chunk_size", size).Int("estimated_batches", st.estimate).Msg("shrinking chunk after failure")
			continue
		}

		st.failures = append(st.failures, newFailure(batch, res.Failure))
		r.emit(Event{Kind: EventBlockSkipped, Batch: batch.Index, Blocks: batch.BlockIndices(), Progress: st.progress(),
			Message: fmt.Sprintf("block #%d skipped", st.blocks[idx].Index)})
		log.Error().Int("block", st.blocks[idx].Index).Msg("skipping block that failed on its own")
		idx++
		plan = plan[1:]
	}
	return nil
}

// deliver renders one batch and records the document on success.
func (r *Runner) deliver(ctx context.Context, st *state, batch pack.Batch) labelary.Result {
	st.batches++
	r.emit(Event{Kind: EventBatchStarted, Batch: batch.Index, Batches: st.estimate, Blocks: batch.BlockIndices(),
		Labels: batch.Total(), Progress: st.progress(),
		Message: fmt.Sprintf("%d block(s), %gx%g in @ %d dpi", len(batch.Items), r.opts.Page.WidthIn, r.opts.Page.HeightIn, r.opts.Page.DPI)})

	res := r.renderer.Render(ctx, labelary.Request{Batch: batch, Page: r.opts.Page})
	if res.OK() {
		st.documents = append(st.documents, res.Document)
		st.succeeded++
		r.emit(Event{Kind: EventBatchSucceeded, Batch: batch.Index, Batches: st.estimate, Blocks: batch.BlockIndices(),
			Labels: batch.Total(), Attempts: res.Attempts, Progress: st.progress()})
		log.Info().Int("batch", batch.Index).Int("labels", batch.Total()).Int("attempts", res.Attempts).Msg("batch rendered")
		return res
	}

	r.emit(Event{Kind: EventBatchFailed, Batch: batch.Index, Batches: st.estimate, Blocks: batch.BlockIndices(),
		Labels: batch.Total(), Attempts: res.Attempts, Status: res.Failure.Status, Progress: st.progress(),
		Message: res.Failure.Error()})
	log.Warn().Int("batch", batch.Index).Str("kind", string(res.Failure.Kind)).Int("status", res.Failure.Status).
		Str("error", res.Failure.Message).Msg("batch failed")
	return res
}

func (r *Runner) hooks(st *state) labelary.Hooks {
	return labelary.Hooks{
		OnAttempt: func(a labelary.Attempt) {
			r.emit(Event{Kind: EventAttempt, Batch: a.Batch, Attempt: a.Number, Attempts: a.Max, Progress: st.progress()})
		},
		OnRetry: func(rt labelary.Retry) {
			r.emit(Event{Kind: EventRetry, Batch: rt.Batch, Attempt: rt.Attempt, Attempts: rt.Max, Status: rt.Status,
				Delay: rt.Delay, Progress: st.progress(), Message: rt.Message})
		},
	}
}

func (r *Runner) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	r.opts.Reporter.Report(e)
}

func (st *state) progress() float64 {
	if st.estimate <= 0 {
		return 0
	}
	return min(1, float64(st.succeeded+len(st.failures))/float64(st.estimate))
}
