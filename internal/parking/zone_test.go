package parking

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourWindowContains(t *testing.T) {
	tests := []struct {
		name   string
		window HourWindow
		hour   int
		want   bool
	}{
		{"inside", HourWindow{8, 18}, 9, true},
		{"start inclusive", HourWindow{8, 18}, 8, true},
		{"end exclusive", HourWindow{8, 18}, 18, false},
		{"wraps late", HourWindow{22, 6}, 23, true},
		{"wraps early", HourWindow{22, 6}, 5, true},
		{"wraps outside", HourWindow{22, 6}, 12, false},
		{"all day", HourWindow{0, 0}, 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.hour))
		})
	}
}

func TestZoneContainsBoundary(t *testing.T) {
	z := Zone{ID: "z", Type: ZoneGeneral, Center: r2.Point{X: 100, Y: 100}, Radius: 50}
	assert.True(t, z.Contains(r2.Point{X: 100, Y: 100}))
	assert.True(t, z.Contains(r2.Point{X: 150, Y: 100}))
	assert.False(t, z.Contains(r2.Point{X: 140, Y: 140}))
}

func TestZoneForbidsParking(t *testing.T) {
	for typ, want := range map[ZoneType]bool{
		ZoneNoParking:  true,
		ZoneCrosswalk:  true,
		ZoneFireLane:   true,
		ZoneRestricted: false,
		ZoneGeneral:    false,
	} {
		assert.Equal(t, want, Zone{Type: typ}.ForbidsParking(), typ)
	}
}

func TestZoneRestrictedAt(t *testing.T) {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	z := Zone{ID: "bus", Type: ZoneLoading, RestrictedHours: []HourWindow{{7, 9}, {16, 19}}}
	assert.True(t, z.RestrictedAt(day.Add(8*time.Hour)))
	assert.True(t, z.RestrictedAt(day.Add(17*time.Hour+30*time.Minute)))
	assert.False(t, z.RestrictedAt(day.Add(12*time.Hour)))

	always := Zone{ID: "r", Type: ZoneRestricted}
	assert.True(t, always.RestrictedAt(day))

	general := Zone{ID: "g", Type: ZoneGeneral}
	assert.False(t, general.RestrictedAt(day))
}

func TestZoneValidate(t *testing.T) {
	ok := Zone{ID: "z", Type: ZoneNoParking, Radius: 10}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Type = "parking_lot"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Radius = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.RestrictedHours = []HourWindow{{25, 3}}
	assert.Error(t, bad.Validate())
}

func TestResolvers(t *testing.T) {
	zones := []Zone{
		{ID: "wide", Type: ZoneGeneral, Center: r2.Point{X: 0, Y: 0}, Radius: 200},
		{ID: "tight", Type: ZoneCrosswalk, Center: r2.Point{X: 10, Y: 0}, Radius: 30},
	}
	p := r2.Point{X: 15, Y: 5}

	z, ok := FirstMatch{}.Resolve(zones, p)
	require.True(t, ok)
	assert.Equal(t, "wide", z.ID)

	z, ok = SmallestRadius{}.Resolve(zones, p)
	require.True(t, ok)
	assert.Equal(t, "tight", z.ID)

	_, ok = FirstMatch{}.Resolve(zones, r2.Point{X: 500, Y: 500})
	assert.False(t, ok)
	_, ok = SmallestRadius{}.Resolve(nil, p)
	assert.False(t, ok)
}

func TestResolverByName(t *testing.T) {
	r, err := ResolverByName("")
	require.NoError(t, err)
	assert.IsType(t, FirstMatch{}, r)

	r, err = ResolverByName("smallest_radius")
	require.NoError(t, err)
	assert.IsType(t, SmallestRadius{}, r)

	_, err = ResolverByName("largest")
	assert.Error(t, err)
}
