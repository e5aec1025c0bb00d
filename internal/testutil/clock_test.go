package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AdvanceAccumulates(t *testing.T) {
	c := NewFakeClock(1000)
	assert.EqualValues(t, 1000, c.Now())

	c.Advance(500)
	assert.EqualValues(t, 1500, c.Now())

	c.Advance(0)
	assert.EqualValues(t, 1500, c.Now())
}

func TestFakeClock_NegativeAdvanceIgnored(t *testing.T) {
	c := NewFakeClock(100)
	c.Advance(-50)
	assert.EqualValues(t, 100, c.Now())
}

func TestFakeClock_SetOnlyMovesForward(t *testing.T) {
	c := NewFakeClock(100)
	c.Set(50)
	assert.EqualValues(t, 100, c.Now())

	c.Set(200)
	assert.EqualValues(t, 200, c.Now())
}
