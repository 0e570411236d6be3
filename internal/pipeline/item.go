package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"tospatch/internal/fileutil"
	"tospatch/internal/logging"
	"tospatch/internal/services"
	"tospatch/internal/services/ipfunpack"
)

// namePattern is the only gate; anything else goes straight to Terminal.
var namePattern = regexp.MustCompile(`^[0-9a-z._]+$`)

// EligibleName reports whether an archive base name passes the gate.
func EligibleName(name string) bool {
	return namePattern.MatchString(name)
}

// Item is one archive and its progress. An item is driven by a single
// goroutine at a time.
type Item struct {
	// Origin is the archive path the item was created from. Ledger keys use
	// its base name.
	Origin string
	// Path is where the archive currently lives: Origin until Copy, the
	// staged copy afterwards.
	Path string

	stage    Stage
	excluded bool
	// executed is set once Execute succeeds for the current stage.
	executed bool
	env      *Env
}

// NewItem creates an item at the Gate stage.
func NewItem(env *Env, path string) *Item {
	return &Item{Origin: path, Path: path, stage: StageGate, env: env}
}

// NewItems creates one item per path, preserving order.
func NewItems(env *Env, paths []string) []*Item {
	items := make([]*Item, 0, len(paths))
	for _, path := range paths {
		items = append(items, NewItem(env, path))
	}
	return items
}

// Name is the archive's original base name.
func (i *Item) Name() string {
	return filepath.Base(i.Origin)
}

// Stage returns the current stage.
func (i *Item) Stage() Stage {
	return i.stage
}

// Excluded reports whether the gate rejected the item.
func (i *Item) Excluded() bool {
	return i.excluded
}

// Step runs Execute then Advance and returns the new stage.
func (i *Item) Step(ctx context.Context) (Stage, error) {
	if err := i.Execute(ctx); err != nil {
		return i.stage, err
	}
	return i.Advance()
}

// Execute performs the current stage's work. Ledgered stages that already
// completed in an earlier run do nothing.
func (i *Item) Execute(ctx context.Context) error {
	var err error
	switch i.stage {
	case StageGate:
		i.excluded = !EligibleName(i.Name())
	case StageCopy:
		err = i.copyToStaging(ctx)
	case StageDecrypt:
		err = i.runTool(ctx, i.env.Gateway.Decrypt)
	case StageExtract:
		err = i.runTool(ctx, i.env.Gateway.Extract)
	case StageRemove:
		err = i.removeStaged(ctx)
	case StageTerminal:
	default:
		err = fmt.Errorf("item %s: unknown stage %d", i.Name(), i.stage)
	}
	if err != nil {
		return err
	}
	i.executed = true
	return nil
}

// Advance moves the item to its next stage, recording ledgered stages as
// done first. It fails when Execute has not succeeded for the current stage.
// Terminal advances to itself.
func (i *Item) Advance() (Stage, error) {
	if i.stage == StageTerminal {
		return i.stage, nil
	}
	if !i.executed {
		return i.stage, fmt.Errorf("item %s: advance from %s before execute completed", i.Name(), i.stage)
	}

	var next Stage
	switch i.stage {
	case StageGate:
		next = StageCopy
		if i.excluded {
			next = StageTerminal
		}
	case StageCopy:
		next = StageDecrypt
	case StageDecrypt:
		next = StageExtract
	case StageExtract:
		next = StageRemove
	case StageRemove:
		next = StageTerminal
	default:
		return i.stage, fmt.Errorf("item %s: unknown stage %d", i.Name(), i.stage)
	}

	if i.stage.Ledgered() {
		if err := i.env.Ledger.MarkDone(i.Name(), i.stage.String()); err != nil {
			return i.stage, err
		}
	}

	i.env.logger().Debug("stage advanced",
		logging.String(logging.FieldItem, i.Name()),
		logging.String(logging.FieldEventType, "stage_advance"),
		logging.String("from", i.stage.String()),
		logging.String("to", next.String()),
	)
	i.stage = next
	i.executed = false
	return next, nil
}

func (i *Item) stageContext(ctx context.Context) context.Context {
	ctx = services.WithItem(ctx, i.Name())
	return services.WithStage(ctx, i.stage.String())
}

// alreadyDone checks the ledger for the current stage.
func (i *Item) alreadyDone(ctx context.Context) (bool, error) {
	done, err := i.env.Ledger.IsDone(i.Name(), i.stage.String())
	if err != nil {
		return false, err
	}
	if done {
		logging.WithContext(ctx, i.env.logger()).Debug("stage already done; skipping",
			logging.String(logging.FieldEventType, "stage_skip"),
		)
	}
	return done, nil
}

func (i *Item) stagedPath() string {
	return filepath.Join(i.env.StagingDir, i.Name())
}

func (i *Item) copyToStaging(ctx context.Context) error {
	ctx = i.stageContext(ctx)
	done, err := i.alreadyDone(ctx)
	if err != nil {
		return err
	}
	staged := i.stagedPath()
	if done {
		i.Path = staged
		return nil
	}
	if err := os.MkdirAll(i.env.StagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrIO, "copy", "create staging directory", i.env.StagingDir, err)
	}
	if err := fileutil.CopyFile(i.Path, staged); err != nil {
		return services.Wrap(services.ErrIO, "copy", "stage archive", i.Name(), err)
	}
	i.Path = staged
	logging.WithContext(ctx, i.env.logger()).Info("archive staged",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("source", i.Origin),
		logging.String("staged", staged),
	)
	return nil
}

func (i *Item) removeStaged(ctx context.Context) error {
	ctx = i.stageContext(ctx)
	if i.Path == i.Origin {
		return services.Wrap(services.ErrValidation, "remove", "", "refusing to delete source archive "+i.Origin, nil)
	}
	removed, err := fileutil.RemoveIfExists(i.Path)
	if err != nil {
		return services.Wrap(services.ErrIO, "remove", "delete staged archive", i.Path, err)
	}
	logger := logging.WithContext(ctx, i.env.logger())
	if !removed {
		logger.Debug("staged archive already gone", logging.String("path", i.Path))
		return nil
	}
	logger.Info("staged archive removed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("path", i.Path),
	)
	return nil
}

type toolCall func(ctx context.Context, path string) (<-chan ipfunpack.Completion, error)

func (i *Item) runTool(ctx context.Context, call toolCall) error {
	ctx = i.stageContext(ctx)
	stage := i.stage.String()
	done, err := i.alreadyDone(ctx)
	if err != nil || done {
		return err
	}
	if err := ctx.Err(); err != nil {
		return services.Canceled(stage, "start", err)
	}

	completions, err := call(ctx, i.Path)
	if err != nil {
		return err
	}
	completion, err := i.await(ctx, completions)
	if err != nil {
		return err
	}
	return i.acceptCompletion(ctx, completion)
}

// await blocks until the tool finishes or ctx is cancelled. The ticker only
// reports progress; cancellation is observed as soon as ctx is done.
func (i *Item) await(ctx context.Context, completions <-chan ipfunpack.Completion) (ipfunpack.Completion, error) {
	logger := logging.WithContext(ctx, i.env.logger())
	stage := i.stage.String()
	started := time.Now()
	ticker := time.NewTicker(i.env.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("tool wait cancelled", logging.Duration("waited", time.Since(started)))
			return ipfunpack.Completion{}, services.Canceled(stage, "wait", ctx.Err())
		case completion, ok := <-completions:
			if !ok {
				return ipfunpack.Completion{}, services.Wrap(services.ErrExternalTool, stage, "wait", "tool completion channel closed without a result", nil)
			}
			return completion, nil
		case <-ticker.C:
			logger.Debug("still waiting for tool", logging.Duration("waited", time.Since(started)))
		}
	}
}

func (i *Item) acceptCompletion(ctx context.Context, completion ipfunpack.Completion) error {
	logger := logging.WithContext(ctx, i.env.logger())
	stage := i.stage.String()
	if completion.Skipped || completion.Success() {
		logger.Info("tool finished",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Bool("skipped", completion.Skipped),
			logging.Duration("duration", completion.Duration),
		)
		return nil
	}

	detail := fmt.Sprintf("tool exited with code %d", completion.ExitCode)
	if i.env.StrictExit {
		return services.Wrap(services.ErrExternalTool, stage, "exit", detail, completion.Err)
	}
	attrs := []logging.Attr{
		logging.Int("exit_code", completion.ExitCode),
		logging.String(logging.FieldImpact, "stage recorded as done; output may be incomplete"),
		logging.String(logging.FieldErrorHint, "enable tool.strict_exit to fail on tool errors"),
	}
	if completion.Err != nil {
		attrs = append(attrs, logging.Error(completion.Err))
	}
	logging.WarnWithContext(logger, detail, "tool_exit_nonzero", attrs...)
	return nil
}
