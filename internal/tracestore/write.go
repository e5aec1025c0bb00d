package tracestore

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/quartz/internal/trace"
)

// IndexTrace inserts one parsed trace under the given run id. The whole
// insert happens in a single transaction; indexing the same run id
// twice fails on the primary key, which keeps runs immutable once
// stored.
func (s *Store) IndexTrace(ctx context.Context, runID, traceFile string, f *trace.File) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, start_time, trace_file, indexed_at) VALUES (?, ?, ?, ?)`,
		runID, f.StartTime, traceFile, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}

	objStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO objects (run_id, pointer, description) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare object insert: %w", err)
	}
	defer objStmt.Close()
	for _, obj := range f.Objects {
		if _, err := objStmt.ExecContext(ctx, runID, int64(obj.Pointer), obj.Description); err != nil {
			return fmt.Errorf("insert object %d: %w", obj.Pointer, err)
		}
	}

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			run_id, event_type, pointer, src_id, dst_id,
			logical_time, microstep, physical_time, trigger, extra_delay
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer recStmt.Close()
	for i, rec := range f.Records {
		if _, err := recStmt.ExecContext(ctx,
			runID, int32(rec.EventType), int64(rec.Pointer), rec.SrcID, rec.DstID,
			rec.LogicalTime, rec.Microstep, rec.PhysicalTime, int64(rec.Trigger), rec.ExtraDelay,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index transaction: %w", err)
	}
	return nil
}

// DeleteRun removes a run and, through the cascading foreign keys, its
// objects and records.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
