package parking

import (
	"fmt"
	"time"

	"github.com/golang/geo/r2"
)

// ZoneType classifies what a zone permits.
type ZoneType string

const (
	ZoneNoParking  ZoneType = "no_parking"
	ZoneRestricted ZoneType = "restricted"
	ZoneLoading    ZoneType = "loading"
	ZoneCrosswalk  ZoneType = "crosswalk"
	ZoneFireLane   ZoneType = "fire_lane"
	ZoneGeneral    ZoneType = "general"
)

// Valid reports whether t is a known zone type.
func (t ZoneType) Valid() bool {
	switch t {
	case ZoneNoParking, ZoneRestricted, ZoneLoading, ZoneCrosswalk, ZoneFireLane, ZoneGeneral:
		return true
	}
	return false
}

// HourWindow is a half-open range of local hours [Start, End). A window
// with End <= Start wraps past midnight, so {22, 6} covers 22:00–05:59.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether hour (0–23) falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	if w.Start == w.End {
		return true
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// Zone is a circular region of the image with its own parking rules.
type Zone struct {
	ID              string
	Name            string
	Type            ZoneType
	Center          r2.Point
	Radius          float64
	RestrictedHours []HourWindow
	MaxDuration     time.Duration // zero means no zone-specific limit
	GracePeriod     time.Duration // zone-derived violations wait this long
}

// Contains reports whether p lies inside the zone, boundary included.
func (z Zone) Contains(p r2.Point) bool {
	return p.Sub(z.Center).Norm() <= z.Radius
}

// zoneViolations maps each no-stopping zone type to the violation it
// raises.
var zoneViolations = map[ZoneType]ViolationType{
	ZoneNoParking: ViolationNoParkingZone,
	ZoneCrosswalk: ViolationCrosswalk,
	ZoneFireLane:  ViolationFireLane,
}

// ForbidsParking reports whether stopping in the zone is never allowed.
func (z Zone) ForbidsParking() bool {
	_, ok := zoneViolations[z.Type]
	return ok
}

// RestrictedAt reports whether the zone's restricted hours cover t. A
// restricted zone with no windows is restricted all day.
func (z Zone) RestrictedAt(t time.Time) bool {
	if len(z.RestrictedHours) == 0 {
		return z.Type == ZoneRestricted
	}
	hour := t.Hour()
	for _, w := range z.RestrictedHours {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

// Validate checks the zone geometry and type.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id is required")
	}
	if !z.Type.Valid() {
		return fmt.Errorf("zone %s: unknown type %q", z.ID, z.Type)
	}
	if z.Radius <= 0 {
		return fmt.Errorf("zone %s: radius must be positive, got %v", z.ID, z.Radius)
	}
	for _, w := range z.RestrictedHours {
		if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 24 {
			return fmt.Errorf("zone %s: invalid hour window %d-%d", z.ID, w.Start, w.End)
		}
	}
	if z.MaxDuration < 0 || z.GracePeriod < 0 {
		return fmt.Errorf("zone %s: durations must be non-negative", z.ID)
	}
	return nil
}

// ZoneResolver picks the zone that governs a point when zones overlap.
type ZoneResolver interface {
	Resolve(zones []Zone, p r2.Point) (Zone, bool)
}

// FirstMatch returns the first containing zone in list order.
type FirstMatch struct{}

func (FirstMatch) Resolve(zones []Zone, p r2.Point) (Zone, bool) {
	for _, z := range zones {
		if z.Contains(p) {
			return z, true
		}
	}
	return Zone{}, false
}

// SmallestRadius returns the tightest containing zone; ties go to the
// earlier zone.
type SmallestRadius struct{}

func (SmallestRadius) Resolve(zones []Zone, p r2.Point) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range zones {
		if z.Contains(p) && (!found || z.Radius < best.Radius) {
			best, found = z, true
		}
	}
	return best, found
}

// ResolverByName maps a configuration name to a resolver. The empty name
// selects FirstMatch.
func ResolverByName(name string) (ZoneResolver, error) {
	switch name {
	case "", "first_match":
		return FirstMatch{}, nil
	case "smallest_radius":
		return SmallestRadius{}, nil
	}
	return nil, fmt.Errorf("unknown zone resolver %q", name)
}
