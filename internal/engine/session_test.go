package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityResolver(t *testing.T) {
	r := NewIdentityResolver(50)

	tests := []struct {
		class Class
		box   BBox
		want  string
	}{
		{ClassCar, BBox{120, 75, 220, 150}, "car_2_1"},
		{ClassCar, BBox{149.9, 99.9, 200, 200}, "car_2_1"},
		{ClassCar, BBox{150, 100, 200, 200}, "car_3_2"},
		{ClassTruck, BBox{0, 0, 10, 10}, "truck_0_0"},
		{ClassBus, BBox{-10, 20, 90, 80}, "bus_-1_0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Resolve(tt.class, tt.box))
	}
}

func TestIdentityCollidesWithinCell(t *testing.T) {
	r := NewIdentityResolver(50)
	a := r.Resolve(ClassCar, BBox{101, 101, 180, 160})
	b := r.Resolve(ClassCar, BBox{149, 149, 230, 210})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, r.Resolve(ClassMotorcycle, BBox{101, 101, 180, 160}))
}

func TestSessionExclusionSet(t *testing.T) {
	s := NewSession("s1")
	assert.False(t, s.HasViolated("car_1_1"))
	assert.True(t, s.MarkViolated("car_1_1"))
	assert.False(t, s.MarkViolated("car_1_1"))
	assert.True(t, s.MarkViolated("bus_0_0"))
	assert.True(t, s.HasViolated("car_1_1"))
	assert.Equal(t, 2, s.ViolatedCount())
	assert.Equal(t, []string{"bus_0_0", "car_1_1"}, s.Violated())
}

func TestSessionPositions(t *testing.T) {
	s := NewSession("s1")
	_, ok := s.Previous("car_1_1")
	assert.False(t, ok)

	s.UpdatePosition("car_1_1", Point{10, 20}, 3)
	s.UpdatePosition("car_1_1", Point{15, 25}, 7)

	prev, ok := s.Previous("car_1_1")
	require.True(t, ok)
	assert.Equal(t, Sample{Center: Point{15, 25}, Frame: 7}, prev)
	assert.Equal(t, 1, s.TrackedCount())
}
