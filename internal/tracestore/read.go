package tracestore

import (
	"context"
	"fmt"

	"github.com/roach88/quartz/internal/trace"
)

// RunInfo summarizes one indexed run.
type RunInfo struct {
	RunID     string
	StartTime int64
	TraceFile string
	Records   int
}

// RecordQuery narrows a Records call. Zero fields are ignored;
// FromTime/ToTime bound logical time inclusively.
type RecordQuery struct {
	EventType *trace.EventType
	Pointer   *uint64
	FromTime  *int64
	ToTime    *int64
	Limit     int
}

// Runs lists every indexed run, newest start time first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.start_time, r.trace_file, COUNT(rec.id)
		FROM runs r
		LEFT JOIN records rec ON rec.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var ri RunInfo
		if err := rows.Scan(&ri.RunID, &ri.StartTime, &ri.TraceFile, &ri.Records); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, ri)
	}
	return runs, rows.Err()
}

// Objects returns the object table of a run as a pointer-to-description
// map.
func (s *Store) Objects(ctx context.Context, runID string) (map[uint64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pointer, description FROM objects WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("list objects for %s: %w", runID, err)
	}
	defer rows.Close()

	objects := make(map[uint64]string)
	for rows.Next() {
		var pointer int64
		var desc string
		if err := rows.Scan(&pointer, &desc); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objects[uint64(pointer)] = desc
	}
	return objects, rows.Err()
}

// Records returns a run's records in tag order, filtered by the query.
func (s *Store) Records(ctx context.Context, runID string, q RecordQuery) ([]trace.Record, error) {
	query := `
		SELECT event_type, pointer, src_id, dst_id,
		       logical_time, microstep, physical_time, trigger, extra_delay
		FROM records WHERE run_id = ?`
	args := []any{runID}
	if q.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, int32(*q.EventType))
	}
	if q.Pointer != nil {
		query += " AND pointer = ?"
		args = append(args, int64(*q.Pointer))
	}
	if q.FromTime != nil {
		query += " AND logical_time >= ?"
		args = append(args, *q.FromTime)
	}
	if q.ToTime != nil {
		query += " AND logical_time <= ?"
		args = append(args, *q.ToTime)
	}
	query += " ORDER BY logical_time, microstep, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records for %s: %w", runID, err)
	}
	defer rows.Close()

	var recs []trace.Record
	for rows.Next() {
		var rec trace.Record
		var et int32
		var pointer, trigger int64
		if err := rows.Scan(&et, &pointer, &rec.SrcID, &rec.DstID,
			&rec.LogicalTime, &rec.Microstep, &rec.PhysicalTime, &trigger, &rec.ExtraDelay); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.EventType = trace.EventType(et)
		rec.Pointer = uint64(pointer)
		rec.Trigger = uint64(trigger)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Summary counts a run's records per event type.
func (s *Store) Summary(ctx context.Context, runID string) (map[trace.EventType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM records WHERE run_id = ? GROUP BY event_type`, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", runID, err)
	}
	defer rows.Close()

	summary := make(map[trace.EventType]int)
	for rows.Next() {
		var et int32
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary[trace.EventType(et)] = n
	}
	return summary, rows.Err()
}
