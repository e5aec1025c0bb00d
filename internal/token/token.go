// Package token implements reference-counted payload carriers.
//
// A Token carries the payload of an event or a port value. Fan-out to
// multiple destinations shares one token: every holder (an event on the
// event queue, a port reference, an in-flight reaction) accounts for one
// reference. When the count reaches zero the token is disposed according
// to its ownership mode and the struct is returned to a recycling pool.
//
// Tokens are immutable once published. The reference count is the only
// mutable field and is manipulated with atomic operations, so IncRef and
// DecRef are safe from any goroutine. The free list is protected by the
// pool's mutex.
package token

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Ownership controls what is disposed when the reference count of a
// token reaches zero.
type Ownership int

const (
	// OwnNothing: the caller retains ownership of the value; nothing is
	// disposed or recycled when the count reaches zero.
	OwnNothing Ownership = iota
	// OwnValue: the value is disposed on zero references but the token
	// struct is reused in place rather than recycled.
	OwnValue
	// OwnTokenAndValue: both the value and the token struct are
	// reclaimed on zero references.
	OwnTokenAndValue
)

func (o Ownership) String() string {
	switch o {
	case OwnNothing:
		return "none"
	case OwnValue:
		return "value"
	case OwnTokenAndValue:
		return "token_and_value"
	default:
		return fmt.Sprintf("Ownership(%d)", int(o))
	}
}

// Destructor disposes a payload value when its token is released.
// Typical uses are closing a resource wrapped in the payload or
// returning a buffer to an application-level pool.
type Destructor func(value any)

// CopyConstructor produces a deep copy of a payload value for mutable
// inputs. When nil, values are copied by assignment (byte slices are
// cloned).
type CopyConstructor func(value any) any

// RefCountError reports a reference count driven below zero. This is a
// program invariant violation: deterministic state is already lost, so
// the runtime panics with this error rather than attempting recovery.
type RefCountError struct {
	Count int32
}

func (e *RefCountError) Error() string {
	return fmt.Sprintf("token reference count underflow: %d", e.Count)
}

// Token is a reference-counted payload carrier.
type Token struct {
	value       any
	length      int
	elementSize int
	refCount    atomic.Int32
	ownership   Ownership
	destructor  Destructor
	copyCtor    CopyConstructor
	pool        *Pool
}

// Value returns the payload, or nil if the token carries none.
func (t *Token) Value() any { return t.value }

// Length returns the number of elements in the payload (1 for a scalar,
// 0 for no payload).
func (t *Token) Length() int { return t.length }

// ElementSize returns the payload element size in bytes, as declared by
// the trigger the token was created for.
func (t *Token) ElementSize() int { return t.elementSize }

// RefCount returns the current reference count.
func (t *Token) RefCount() int { return int(t.refCount.Load()) }

// Ownership returns the disposal mode applied on zero references.
func (t *Token) Ownership() Ownership { return t.ownership }

// SetOwnership sets the disposal mode. Must be called before the token
// is published.
func (t *Token) SetOwnership(o Ownership) { t.ownership = o }

// SetDestructor installs a user-supplied destructor for the value.
func (t *Token) SetDestructor(d Destructor) { t.destructor = d }

// SetCopyConstructor installs a user-supplied deep-copy function.
func (t *Token) SetCopyConstructor(c CopyConstructor) { t.copyCtor = c }

// CopyValue returns a copy of the payload using the copy constructor if
// one is installed. Byte slices are cloned; other values are copied by
// assignment.
func (t *Token) CopyValue() any {
	if t.copyCtor != nil {
		return t.copyCtor(t.value)
	}
	if b, ok := t.value.([]byte); ok {
		dup := make([]byte, len(b))
		copy(dup, b)
		return dup
	}
	return t.value
}

// IncRef adds one reference to the token. Safe from any goroutine.
func (t *Token) IncRef() {
	t.refCount.Add(1)
}

// DecRef removes one reference. When the count reaches zero the token
// is disposed according to its ownership mode and, where applicable,
// returned to the pool it came from. Driving the count below zero
// panics with a RefCountError.
func (t *Token) DecRef() {
	n := t.refCount.Add(-1)
	if n < 0 {
		panic(&RefCountError{Count: n})
	}
	if n == 0 {
		t.release()
	}
}

// release disposes the payload and recycles the struct per ownership.
func (t *Token) release() {
	switch t.ownership {
	case OwnNothing:
		// Caller retains the value and the token.
		return
	case OwnValue:
		if t.destructor != nil {
			t.destructor(t.value)
		}
		t.value = nil
		t.length = 0
		if t.pool != nil {
			t.pool.noteFreed()
		}
	case OwnTokenAndValue:
		if t.destructor != nil {
			t.destructor(t.value)
		}
		t.value = nil
		t.length = 0
		if t.pool != nil {
			t.pool.recycle(t)
		}
	}
}

// Pool recycles token structs. One pool exists per runtime; all tokens
// scheduled or published through that runtime come from its pool, which
// lets tests verify that every token created during a run is returned.
type Pool struct {
	mu        sync.Mutex
	free      []*Token
	created   int64
	recycled  int64
	freedLive int64
}

// NewPool creates an empty token pool.
func NewPool() *Pool {
	return &Pool{}
}

// Create returns a new or recycled token with the given element size.
// The value is nil, the length 0, and the reference count 0; the first
// holder (an event or a port) accounts for the first reference.
func (p *Pool) Create(elementSize int) *Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	var t *Token
	if n := len(p.free); n > 0 {
		t = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		t = &Token{pool: p}
	}
	p.created++

	t.value = nil
	t.length = 0
	t.elementSize = elementSize
	t.ownership = OwnTokenAndValue
	t.destructor = nil
	t.copyCtor = nil
	t.refCount.Store(0)
	return t
}

// InitializeWithValue returns a token carrying the given value. The
// input token is reused in place when it has at most one holder;
// otherwise a fresh token with the same element size, destructor, and
// copy constructor is drawn from the pool. Ownership is set to
// OwnTokenAndValue.
func (p *Pool) InitializeWithValue(t *Token, value any, length int) *Token {
	out := t
	if t.refCount.Load() > 1 {
		out = p.Create(t.elementSize)
		out.destructor = t.destructor
		out.copyCtor = t.copyCtor
	}
	out.value = value
	out.length = length
	out.ownership = OwnTokenAndValue
	return out
}

// recycle returns a zero-reference token struct to the free list.
func (p *Pool) recycle(t *Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recycled++
	p.free = append(p.free, t)
}

// noteFreed records the disposal of a value whose token struct is being
// reused in place (OwnValue).
func (p *Pool) noteFreed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freedLive++
}

// Outstanding returns the number of tokens created by this pool that
// have not yet been returned or disposed. Zero after a run to
// completion means no token leaked.
func (p *Pool) Outstanding() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created - p.recycled - p.freedLive
}

// Created returns the total number of tokens handed out by Create.
func (p *Pool) Created() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
