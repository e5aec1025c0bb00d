package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Recorder buffers trace records per worker and writes the binary
// format. Register objects before Start; tracepoints between Start and
// Stop are safe from any goroutine.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	objects []Object
	started bool
	stopped bool

	// One buffer per worker id, plus index 0 for records emitted
	// outside any worker (id -1). Flushed independently at capacity so
	// workers do not contend on every record.
	buffers map[int][]Record
}

// NewRecorder writes the trace to w. The caller owns w's lifetime.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, buffers: make(map[int][]Record)}
}

// NewFileRecorder creates the trace file at path, truncating any
// existing file. Stop closes it.
func NewFileRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

// RegisterObject adds one entry to the header object table. Must be
// called before Start; later registrations are silently dropped because
// the header has already been written.
func (r *Recorder) RegisterObject(pointer uint64, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.objects = append(r.objects, Object{Pointer: pointer, Description: description})
}

// Start writes the header: the start time followed by the object table.
func (r *Recorder) Start(startTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("trace already started")
	}
	r.started = true

	buf := binary.LittleEndian.AppendUint64(nil, uint64(startTime))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.objects)))
	for _, obj := range r.objects {
		buf = binary.LittleEndian.AppendUint64(buf, obj.Pointer)
		buf = append(buf, obj.Description...)
		buf = append(buf, 0)
	}
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("write trace header: %w", err)
	}
	return nil
}

// Tracepoint appends one record to the worker's buffer, flushing the
// buffer when it reaches capacity. Records from outside any worker pass
// -1.
func (r *Recorder) Tracepoint(worker int, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return
	}
	r.buffers[worker] = append(r.buffers[worker], rec)
	if len(r.buffers[worker]) >= BufferCapacity {
		r.flushLocked(worker)
	}
}

// Flush writes out every non-empty buffer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushAllLocked()
}

// Stop flushes all buffers and closes the underlying file when the
// recorder owns one.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	err := r.flushAllLocked()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Recorder) flushAllLocked() error {
	// Flush in worker order so full flushes are reproducible.
	workers := make([]int, 0, len(r.buffers))
	for worker := range r.buffers {
		workers = append(workers, worker)
	}
	sort.Ints(workers)
	for _, worker := range workers {
		if err := r.flushLocked(worker); err != nil {
			return err
		}
	}
	return nil
}

// flushLocked writes one frame: the record count followed by the packed
// records.
func (r *Recorder) flushLocked(worker int) error {
	recs := r.buffers[worker]
	if len(recs) == 0 {
		return nil
	}
	buf := make([]byte, 0, 4+len(recs)*recordSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(recs)))
	for _, rec := range recs {
		buf = appendRecord(buf, rec)
	}
	r.buffers[worker] = recs[:0]
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("write trace frame: %w", err)
	}
	return nil
}

func appendRecord(buf []byte, rec Record) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.EventType))
	buf = binary.LittleEndian.AppendUint64(buf, rec.Pointer)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.SrcID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.DstID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.LogicalTime))
	buf = binary.LittleEndian.AppendUint32(buf, rec.Microstep)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.PhysicalTime))
	buf = binary.LittleEndian.AppendUint64(buf, rec.Trigger)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.ExtraDelay))
	return buf
}
