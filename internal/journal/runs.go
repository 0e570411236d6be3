package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tospatch/internal/pipeline"
)

// OutcomeRunning marks a run that has not finished. A run left in this state
// was interrupted without reaching FinishRun.
const OutcomeRunning = "running"

// Run is one journal row.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	ItemCount  int
	Outcome    string
	Completed  int
	Excluded   int
	Anomalies  int
	Phase1     time.Duration
	Phase2     time.Duration
	Error      string
}

// RunItem is an archive's final stage within a run.
type RunItem struct {
	Position   int
	Name       string
	Origin     string
	FinalStage string
	Excluded   bool
}

// BeginRun records the start of a run.
func (j *Journal) BeginRun(ctx context.Context, runID string, itemCount int) error {
	err := j.exec(ctx,
		`INSERT INTO runs (id, started_at, item_count, outcome) VALUES (?, ?, ?, ?)`,
		runID, formatTime(time.Now()), itemCount, OutcomeRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the outcome and per-item final stages of report.
func (j *Journal) FinishRun(ctx context.Context, report pipeline.Report) error {
	errMsg := ""
	if report.Err != nil {
		errMsg = report.Err.Error()
	}
	return retryOnBusy(ctx, func() error {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `UPDATE runs SET
			finished_at = ?, item_count = ?, outcome = ?, completed = ?, excluded = ?,
			anomalies = ?, phase1_ms = ?, phase2_ms = ?, error_message = ?
			WHERE id = ?`,
			formatTime(time.Now()), len(report.Items), report.Outcome(), report.Completed, report.Excluded,
			len(report.Anomalies), report.Phase1.Milliseconds(), report.Phase2.Milliseconds(), errMsg,
			report.RunID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("run %s not found", report.RunID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM run_items WHERE run_id = ?`, report.RunID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_items (run_id, position, name, origin, final_stage, excluded) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, item := range report.Items {
			if _, err := stmt.ExecContext(ctx, report.RunID, i, item.Name, item.Origin, item.Stage.String(), boolToInt(item.Excluded)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, item_count, outcome, completed, excluded,
		anomalies, phase1_ms, phase2_ms, error_message FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run            Run
			started, ended sql.NullString
			phase1, phase2 int64
		)
		if err := rows.Scan(&run.ID, &started, &ended, &run.ItemCount, &run.Outcome, &run.Completed,
			&run.Excluded, &run.Anomalies, &phase1, &phase2, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(ended)
		run.Phase1 = time.Duration(phase1) * time.Millisecond
		run.Phase2 = time.Duration(phase2) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Items returns the archives recorded for runID in input order.
func (j *Journal) Items(ctx context.Context, runID string) ([]RunItem, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT position, name, origin, final_stage, excluded FROM run_items WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run items: %w", err)
	}
	defer rows.Close()

	var items []RunItem
	for rows.Next() {
		var (
			item     RunItem
			excluded int
		)
		if err := rows.Scan(&item.Position, &item.Name, &item.Origin, &item.FinalStage, &excluded); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		item.Excluded = excluded != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := j.db.ExecContext(ctx,
			`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)`,
			keep,
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return removed, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
