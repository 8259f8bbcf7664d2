package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geodiff-tools/registry-replay/metrics"
	"github.com/geodiff-tools/registry-replay/registry"
	"github.com/geodiff-tools/registry-replay/report"
)

// Options control retry and scheduling behavior for a replay run.
type Options struct {
	// Concurrency bounds how many records are in flight within one
	// operation bucket. 1 means strictly sequential.
	Concurrency int
	// MaxAttempts is the total number of calls for a record whose
	// failures stay transient, including the first.
	MaxAttempts int
	// RetryBaseDelay is the backoff before the first retry; it doubles
	// per attempt up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// DryRun plans only. Every record reports Skipped and no registry
	// call is made.
	DryRun bool
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 200 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Second
	}
	return o
}

// Engine replays a geodiff report against a remote registry. Buckets are
// applied in a fixed order, deletes then updates then inserts, so a
// delete frees any unique key a later insert may claim. Each bucket is a
// barrier: no update starts before every delete has resolved, no insert
// before every update.
type Engine struct {
	client  registry.Client
	opts    Options
	metrics *metrics.Metrics
}

func NewEngine(client registry.Client, opts Options, metrics *metrics.Metrics) *Engine {
	return &Engine{
		client:  client,
		opts:    opts.withDefaults(),
		metrics: metrics,
	}
}

// task pins a record to its slot in the outcome list so concurrent
// workers never contend on shared positions.
type task struct {
	index  int
	record report.ChangeRecord
}

// Run replays the report and returns a summary with one outcome per
// change, in report order. Per-record failures never abort the run;
// only a conflicting report or cancellation before the first record is
// fatal.
func (e *Engine) Run(ctx context.Context, rep report.Report) (Summary, error) {
	if _, err := report.Classify(rep); err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("replay cancelled before start: %w", err)
	}

	var deletes, updates, inserts []task
	for i, c := range rep.Changes {
		t := task{index: i, record: c}
		switch c.Op {
		case report.OpDelete:
			deletes = append(deletes, t)
		case report.OpUpdate:
			updates = append(updates, t)
		case report.OpInsert:
			inserts = append(inserts, t)
		}
	}

	slog.Debug("Replaying report",
		"source", rep.Source,
		"deletes", len(deletes),
		"updates", len(updates),
		"inserts", len(inserts))

	outcomes := make([]Outcome, len(rep.Changes))
	e.runBucket(ctx, deletes, outcomes)
	e.runBucket(ctx, updates, outcomes)
	e.runBucket(ctx, inserts, outcomes)

	for _, o := range outcomes {
		e.metrics.IncRecordOutcome(string(o.Op), string(o.Status))
	}
	return Summarize(outcomes), nil
}

// runBucket drains one operation bucket with bounded parallelism and
// waits for every record to resolve before returning. Cancellation stops
// dispatch of new records; in-flight calls finish and keep their
// Applied/Failed outcome.
func (e *Engine) runBucket(ctx context.Context, tasks []task, outcomes []Outcome) {
	if len(tasks) == 0 {
		return
	}

	workers := e.opts.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	ch := make(chan task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				outcomes[t.index] = e.applyRecord(ctx, t.record)
			}
		}()
	}

	for i, t := range tasks {
		select {
		case ch <- t:
		case <-ctx.Done():
			for _, rest := range tasks[i:] {
				outcomes[rest.index] = Outcome{
					Key:    rest.record.Key,
					Op:     rest.record.Op,
					Status: StatusSkipped,
					Detail: "cancelled before dispatch",
				}
			}
			close(ch)
			wg.Wait()
			return
		}
	}
	close(ch)
	wg.Wait()
}

// applyRecord issues the registry call for one record, retrying
// transient failures with exponential backoff. A permanent error fails
// the record on the spot.
func (e *Engine) applyRecord(ctx context.Context, rec report.ChangeRecord) Outcome {
	out := Outcome{Key: rec.Key, Op: rec.Op}

	if e.opts.DryRun {
		slog.Info("Dry run, skipping record", "op", rec.Op, "key", rec.Key)
		out.Status = StatusSkipped
		out.Detail = "dry run"
		return out
	}

	var lastErr error
	delay := e.opts.RetryBaseDelay

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		err := e.call(ctx, rec)
		if err == nil {
			slog.Debug("Applied record", "op", rec.Op, "key", rec.Key, "attempt", attempt)
			out.Status = StatusApplied
			return out
		}
		lastErr = err

		if !registry.IsTransient(err) {
			slog.Error("Record rejected", "op", rec.Op, "key", rec.Key, "error", err)
			break
		}
		if attempt == e.opts.MaxAttempts {
			slog.Error("Retries exhausted", "op", rec.Op, "key", rec.Key, "attempts", attempt, "error", err)
			break
		}

		slog.Warn("Transient failure, retrying", "op", rec.Op, "key", rec.Key, "attempt", attempt, "delay", delay, "error", err)
		e.metrics.IncRetry(string(rec.Op))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			out.Status = StatusFailed
			out.Detail = fmt.Sprintf("cancelled during backoff, last error: %v", lastErr)
			return out
		}
		delay *= 2
		if delay > e.opts.RetryMaxDelay {
			delay = e.opts.RetryMaxDelay
		}
	}

	out.Status = StatusFailed
	out.Detail = lastErr.Error()
	return out
}

func (e *Engine) call(ctx context.Context, rec report.ChangeRecord) error {
	switch rec.Op {
	case report.OpInsert:
		id, err := e.client.Create(ctx, rec.Fields)
		if err != nil {
			return err
		}
		if id != "" {
			slog.Debug("Registry assigned id", "key", rec.Key, "id", id)
		}
		return nil
	case report.OpUpdate:
		return e.client.Update(ctx, rec.Key, rec.Fields)
	case report.OpDelete:
		return e.client.Delete(ctx, rec.Key)
	default:
		return &registry.Error{Message: fmt.Sprintf("unknown operation %q", rec.Op)}
	}
}
