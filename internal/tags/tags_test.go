package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_TotalOrder(t *testing.T) {
	a := Tag{Time: 10, Microstep: 0}
	b := Tag{Time: 10, Microstep: 1}
	c := Tag{Time: 11, Microstep: 0}

	assert.Equal(t, -1, Compare(a, b), "microstep breaks ties within an instant")
	assert.Equal(t, -1, Compare(b, c), "time dominates microstep")
	assert.Equal(t, 0, Compare(a, a))
	assert.Equal(t, 1, Compare(c, a))
}

func TestCompare_Extremes(t *testing.T) {
	mid := Tag{Time: 0, Microstep: 0}

	assert.True(t, Never.Before(mid))
	assert.True(t, mid.Before(Forever))
	assert.True(t, Never.Before(Forever))
	assert.Equal(t, 0, Compare(Never, Never))
	assert.Equal(t, 0, Compare(Forever, Forever))
}

func TestAddTime_Saturates(t *testing.T) {
	assert.Equal(t, ForeverTime, AddTime(ForeverTime-1, 2), "positive overflow clamps to FOREVER")
	assert.Equal(t, NeverTime, AddTime(NeverTime+1, -2), "negative overflow clamps to NEVER")
	assert.Equal(t, NeverTime, AddTime(NeverTime, 100), "NEVER absorbs addition")
	assert.Equal(t, ForeverTime, AddTime(ForeverTime, -100), "FOREVER absorbs addition")
	assert.Equal(t, Instant(30), AddTime(10, 20))
}

func TestAddInterval(t *testing.T) {
	base := Tag{Time: 100, Microstep: 5}

	assert.Equal(t, Tag{Time: 150, Microstep: 0}, AddInterval(base, 50),
		"positive interval resets microstep")
	assert.Equal(t, Tag{Time: 100, Microstep: 6}, AddInterval(base, 0),
		"zero interval advances microstep")

	sat := Tag{Time: 100, Microstep: MaxMicrostep}
	assert.Equal(t, sat, AddInterval(sat, 0), "microstep saturates")
}

func TestDelay(t *testing.T) {
	base := Tag{Time: 10_000_000, Microstep: 3}

	assert.Equal(t, Tag{Time: 11_000_000, Microstep: 0}, Delay(base, 1_000_000))
	assert.Equal(t, Tag{Time: 10_000_000, Microstep: 4}, Delay(base, 0),
		"zero delay means same instant, next microstep")
	assert.Equal(t, Never, Delay(Never, 5), "NEVER is a fixed point")
	assert.Equal(t, Forever, Delay(Forever, 5), "FOREVER is a fixed point")
}

func TestMinMax(t *testing.T) {
	a := Tag{Time: 1, Microstep: 2}
	b := Tag{Time: 1, Microstep: 3}

	assert.Equal(t, a, Min(a, b))
	assert.Equal(t, b, Max(a, b))
	assert.Equal(t, a, Min(a, a))
}

func TestString(t *testing.T) {
	assert.Equal(t, "(NEVER, 0)", Never.String())
	assert.Equal(t, "(FOREVER, max)", Forever.String())
	assert.Equal(t, "(5, 1)", Tag{Time: 5, Microstep: 1}.String())
}
