package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CreateDefaults(t *testing.T) {
	p := NewPool()
	tok := p.Create(8)

	assert.Nil(t, tok.Value())
	assert.Equal(t, 0, tok.Length())
	assert.Equal(t, 8, tok.ElementSize())
	assert.Equal(t, 0, tok.RefCount())
	assert.Equal(t, OwnTokenAndValue, tok.Ownership())
}

func TestToken_RefCountRoundTrip(t *testing.T) {
	p := NewPool()
	tok := p.Create(1)
	tok.IncRef()
	tok.IncRef()
	assert.Equal(t, 2, tok.RefCount())

	tok.DecRef()
	assert.Equal(t, int64(1), p.Outstanding(), "still one holder")

	tok.DecRef()
	assert.Equal(t, int64(0), p.Outstanding(), "all tokens returned")
}

func TestToken_DecRefUnderflowPanics(t *testing.T) {
	p := NewPool()
	tok := p.Create(1)

	require.PanicsWithError(t, "token reference count underflow: -1", func() {
		tok.DecRef()
	})
}

func TestToken_DestructorRunsOnce(t *testing.T) {
	p := NewPool()
	tok := p.Create(4)
	tok.IncRef()

	calls := 0
	tok.SetDestructor(func(v any) {
		calls++
		assert.Equal(t, "payload", v)
	})
	tok = p.InitializeWithValue(tok, "payload", 1)
	tok.IncRef()

	tok.DecRef()
	assert.Equal(t, 0, calls, "destructor must wait for last holder")
	tok.DecRef()
	assert.Equal(t, 1, calls)
}

func TestToken_OwnNothingLeavesValueAlone(t *testing.T) {
	p := NewPool()
	tok := p.Create(1)
	tok.IncRef()
	tok.SetOwnership(OwnNothing)

	called := false
	tok.SetDestructor(func(any) { called = true })

	tok.DecRef()
	assert.False(t, called, "caller retains ownership under OwnNothing")
}

func TestPool_RecyclesStructs(t *testing.T) {
	p := NewPool()

	first := p.Create(2)
	first.IncRef()
	first.DecRef()

	second := p.Create(2)
	assert.Same(t, first, second, "zero-ref token goes back to the free list")
	assert.Equal(t, 0, second.RefCount())
	assert.Nil(t, second.Value())
}

func TestPool_InitializeWithValue_ReusesSingleHolder(t *testing.T) {
	p := NewPool()
	tok := p.Create(4)
	tok.IncRef()

	out := p.InitializeWithValue(tok, []byte{1, 2, 3}, 3)
	assert.Same(t, tok, out, "a token with one holder is reused in place")
	assert.Equal(t, 3, out.Length())
}

func TestPool_InitializeWithValue_AllocatesWhenShared(t *testing.T) {
	p := NewPool()
	tok := p.Create(4)
	tok.IncRef()
	tok.IncRef()
	tok.SetDestructor(func(any) {})

	out := p.InitializeWithValue(tok, "fresh", 1)
	assert.NotSame(t, tok, out, "a shared token must not be overwritten")
	assert.Equal(t, 4, out.ElementSize(), "element size is inherited")
	assert.Equal(t, "fresh", out.Value())
}

func TestToken_CopyValue(t *testing.T) {
	p := NewPool()

	tok := p.InitializeWithValue(p.Create(1), []byte("abc"), 3)
	dup := tok.CopyValue().([]byte)
	dup[0] = 'x'
	assert.Equal(t, []byte("abc"), tok.Value(), "byte slices are cloned")

	tok2 := p.InitializeWithValue(p.Create(1), 7, 1)
	tok2.SetCopyConstructor(func(v any) any { return v.(int) + 1 })
	assert.Equal(t, 8, tok2.CopyValue(), "user copy constructor wins")
}
