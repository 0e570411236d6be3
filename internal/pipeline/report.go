package pipeline

import (
	"time"

	"tospatch/internal/services"
)

// ItemResult is an item's final state after a run.
type ItemResult struct {
	Name     string
	Origin   string
	Path     string
	Stage    Stage
	Excluded bool
	// DuplicateOf is the origin of the earlier archive with the same name
	// when this one was skipped.
	DuplicateOf string
}

// Report summarizes a run.
type Report struct {
	RunID     string
	StartedAt time.Time
	// Items holds every item in input order.
	Items     []ItemResult
	Excluded  int
	Completed int
	// Anomalies lists items that did not reach Terminal.
	Anomalies []ItemResult
	// Duplicates lists archives skipped because an earlier input has the
	// same base name. They are not part of Items.
	Duplicates []ItemResult
	Phase1    time.Duration
	Phase2    time.Duration
	Err       error
}

// Outcome values recorded for a run.
const (
	OutcomeCompleted = "completed"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
)

// Canceled reports whether the run stopped because of cancellation.
func (r Report) Canceled() bool {
	return r.Err != nil && services.IsCanceled(r.Err)
}

// Outcome classifies the run.
func (r Report) Outcome() string {
	switch {
	case r.Err == nil:
		return OutcomeCompleted
	case r.Canceled():
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

func (r *Report) finalize(items []*Item, err error) {
	r.Err = err
	r.Items = make([]ItemResult, 0, len(items))
	r.Anomalies = nil
	r.Excluded, r.Completed = 0, 0
	for _, item := range items {
		result := item.result()
		r.Items = append(r.Items, result)
		switch {
		case result.Stage != StageTerminal:
			r.Anomalies = append(r.Anomalies, result)
		case result.Excluded:
			r.Excluded++
		default:
			r.Completed++
		}
	}
}

func (i *Item) result() ItemResult {
	return ItemResult{
		Name:     i.Name(),
		Origin:   i.Origin,
		Path:     i.Path,
		Stage:    i.Stage(),
		Excluded: i.Excluded(),
	}
}
