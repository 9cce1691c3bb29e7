package vision

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_Geometry(t *testing.T) {
	b := BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 60}
	assert.Equal(t, r2.Point{X: 20, Y: 40}, b.Center())
	assert.InDelta(t, 800.0, b.Area(), 1e-9)

	// Corners given in reverse order describe the same box.
	flipped := BoundingBox{X1: 30, Y1: 60, X2: 10, Y2: 20}
	assert.Equal(t, b.Center(), flipped.Center())
	assert.InDelta(t, b.Area(), flipped.Area(), 1e-9)
}

func TestDetection_DerivedFields(t *testing.T) {
	d := Detection{Box: BoundingBox{X1: 0, Y1: 0, X2: 4, Y2: 2}}
	assert.Equal(t, r2.Point{X: 2, Y: 1}, d.Center())
	assert.InDelta(t, 8.0, d.Area(), 1e-9)
}

func TestFilterVehicles(t *testing.T) {
	dets := []Detection{
		{Class: "car", Confidence: 0.9},
		{Class: "person", Confidence: 0.95},
		{Class: "truck", Confidence: 0.3},
		{Class: "bus", Confidence: 0.6},
	}

	got := FilterVehicles(dets, DefaultVehicleClasses, 0.5)
	assert.Len(t, got, 2)
	assert.Equal(t, "car", got[0].Class)
	assert.Equal(t, "bus", got[1].Class)

	all := FilterVehicles(dets, nil, 0)
	assert.Len(t, all, 4)

	assert.Empty(t, FilterVehicles(nil, DefaultVehicleClasses, 0))
}
