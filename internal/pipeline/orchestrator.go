package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tospatch/internal/logging"
	"tospatch/internal/services"
)

const (
	// phaseOneCycles takes an eligible item through Gate, Copy and Decrypt.
	phaseOneCycles = 3
	// phaseTwoCycles takes it through Extract and Remove.
	phaseTwoCycles = 2
)

// Orchestrator drives items to Terminal in two phases.
type Orchestrator struct {
	env     *Env
	workers int
	runID   string
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds phase one parallelism. Values <= 0 mean one per CPU.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithLogger overrides the orchestrator logger. Items keep logging through
// the Env logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator constructs an orchestrator over env.
func NewOrchestrator(env *Env, opts ...Option) *Orchestrator {
	o := &Orchestrator{env: env, logger: env.logger()}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// RunID returns the identifier stamped on this orchestrator's logs.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run processes items and returns a report. The report is complete even when
// err is non-nil; items that did not reach Terminal appear as anomalies.
// A cancelled run returns an error matching services.ErrCanceled.
func (o *Orchestrator) Run(ctx context.Context, items []*Item) (Report, error) {
	ctx = services.WithRunID(ctx, o.runID)
	logger := logging.WithContext(ctx, o.logger)
	report := Report{RunID: o.runID, StartedAt: time.Now()}

	items, report.Duplicates = splitDuplicates(items)
	for _, dup := range report.Duplicates {
		logging.WarnWithContext(logger, "duplicate archive name; skipping",
			"duplicate_archive",
			logging.String(logging.FieldItem, dup.Name),
			logging.String("path", dup.Origin),
			logging.String("duplicate_of", dup.DuplicateOf),
			logging.String(logging.FieldImpact, "archive not unpacked"),
			logging.String(logging.FieldErrorHint, "ignore or rename one of the archives"),
		)
	}

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("items", len(items)),
		logging.Int("duplicates", len(report.Duplicates)),
		logging.Int("workers", o.workers),
	)

	phaseStart := time.Now()
	err := o.phaseOne(ctx, items)
	report.Phase1 = time.Since(phaseStart)
	logger.Debug("phase one finished", logging.Duration("elapsed", report.Phase1))

	if err == nil {
		phaseStart = time.Now()
		err = o.phaseTwo(ctx, items)
		report.Phase2 = time.Since(phaseStart)
		logger.Debug("phase two finished", logging.Duration("elapsed", report.Phase2))
	}

	report.finalize(items, err)
	o.logOutcome(logger, report)
	return report, err
}

// splitDuplicates keeps the first item for each archive name. Staged copies
// and ledger markers are keyed by name, so a later item with the same name
// would share them.
func splitDuplicates(items []*Item) ([]*Item, []ItemResult) {
	first := make(map[string]*Item, len(items))
	unique := make([]*Item, 0, len(items))
	var dropped []ItemResult
	for _, item := range items {
		if kept, ok := first[item.Name()]; ok {
			result := item.result()
			result.DuplicateOf = kept.Origin
			dropped = append(dropped, result)
			continue
		}
		first[item.Name()] = item
		unique = append(unique, item)
	}
	return unique, dropped
}

// phaseOne runs the first cycles of every item in parallel. Once any item
// fails or ctx is cancelled no further items are scheduled.
func (o *Orchestrator) phaseOne(ctx context.Context, items []*Item) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)
	for _, item := range items {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			return o.cycle(groupCtx, item, phaseOneCycles)
		})
	}
	err := group.Wait()
	if err == nil && ctx.Err() != nil {
		err = services.Canceled("phase one", "schedule", ctx.Err())
	}
	return err
}

// phaseTwo finishes items one at a time in origin path order.
func (o *Orchestrator) phaseTwo(ctx context.Context, items []*Item) error {
	ordered := make([]*Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Origin < ordered[j].Origin
	})
	for _, item := range ordered {
		if err := o.cycle(ctx, item, phaseTwoCycles); err != nil {
			return err
		}
	}
	return nil
}

// cycle steps item up to n times, checking for cancellation before and after
// every transition.
func (o *Orchestrator) cycle(ctx context.Context, item *Item, n int) error {
	for range n {
		if err := ctx.Err(); err != nil {
			return services.Canceled(item.Stage().String(), "schedule", err)
		}
		if item.Stage() == StageTerminal {
			return nil
		}
		if _, err := item.Step(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return services.Canceled(item.Stage().String(), "schedule", err)
		}
	}
	return nil
}

func (o *Orchestrator) logOutcome(logger *slog.Logger, report Report) {
	for _, anomaly := range report.Anomalies {
		logging.WarnWithContext(logger, "archive did not finish",
			"run_anomaly",
			logging.String(logging.FieldItem, anomaly.Name),
			logging.String(logging.FieldStage, anomaly.Stage.String()),
			logging.String(logging.FieldImpact, "archive left unprocessed; rerun to resume"),
			logging.String(logging.FieldErrorHint, "rerun tospatch with the same run directory"),
		)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("outcome", report.Outcome()),
		logging.Int("completed", report.Completed),
		logging.Int("excluded", report.Excluded),
		logging.Int("anomalies", len(report.Anomalies)),
		logging.Duration("phase1", report.Phase1),
		logging.Duration("phase2", report.Phase2),
	}
	switch {
	case report.Err == nil:
		logger.Info("run finished", logging.Args(attrs...)...)
	case report.Canceled():
		logger.Warn("run cancelled", logging.Args(attrs...)...)
	default:
		attrs = append(attrs, logging.Error(report.Err))
		logger.Error("run failed", logging.Args(attrs...)...)
	}
}
