package fed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/quartz/internal/tags"
)

func TestLocalGrantsIdentity(t *testing.T) {
	a := NewLocal()

	next := tags.Tag{Time: 100, Microstep: 2}
	a.NotifyNextEvent(next)
	assert.Equal(t, next, a.WaitForTag(next))

	stop := tags.Tag{Time: 50, Microstep: 1}
	a.SendStopRequest(stop)
	assert.Equal(t, stop, a.AwaitStopGranted(stop))
}
