package rtls

import "math"

// NavigationAction is the kind of instruction issued to the seeker.
type NavigationAction string

const (
	NavTurn    NavigationAction = "turn"
	NavForward NavigationAction = "forward"
	NavArrived NavigationAction = "arrived"
)

// TurnDirection is which way to turn, from the seeker's heading.
type TurnDirection string

const (
	TurnLeft  TurnDirection = "left"
	TurnRight TurnDirection = "right"
)

// NavigationInstruction is one step-by-step guidance frame. A turn is
// issued when the bearing to the target deviates from the seeker's heading
// beyond the configured threshold; otherwise the seeker is told to move
// forward toward the next waypoint.
type NavigationInstruction struct {
	Action         NavigationAction `json:"action"`
	TurnDirection  TurnDirection    `json:"turn_direction,omitempty"`
	TurnDegrees    float64          `json:"turn_degrees,omitempty"`
	DistanceMeters float64          `json:"distance_meters,omitempty"`
	BearingDeg     float64          `json:"bearing_deg"` // absolute, 0 = +X axis
	Waypoint       Point3           `json:"waypoint"`
	WaypointIndex  int              `json:"waypoint_index"`
	WaypointCount  int              `json:"waypoint_count"`
}

// navigationParams are the tuning values guidance depends on.
type navigationParams struct {
	turnThresholdDeg float64
	waypointCount    int
	arriveMeters     float64 // found-proximity radius
}

// navigate produces an instruction guiding the seeker from its fix toward
// the target. The route is a straight line split into evenly spaced
// waypoints; guidance always targets the first waypoint not yet reached.
// The seeker's heading is derived from its movement between consecutive
// fixes; a zero heading vector skips the turn check and issues a forward
// instruction with the absolute bearing.
func navigate(p navigationParams, seeker SeekerFix, heading Point3, target Point3) NavigationInstruction {
	total := seeker.Position.DistanceTo(target)
	if total <= p.arriveMeters {
		return NavigationInstruction{
			Action:        NavArrived,
			Waypoint:      target,
			WaypointIndex: p.waypointCount,
			WaypointCount: p.waypointCount,
		}
	}

	waypoints := interpolateWaypoints(seeker.Position, target, p.waypointCount)
	idx := 0
	for idx < len(waypoints)-1 && seeker.Position.DistanceTo(waypoints[idx]) <= p.arriveMeters {
		idx++
	}
	next := waypoints[idx]

	dx := next.X - seeker.Position.X
	dy := next.Y - seeker.Position.Y
	bearing := normalizeDeg(math.Atan2(dy, dx) * 180 / math.Pi)
	dist := seeker.Position.DistanceTo(next)

	instr := NavigationInstruction{
		Action:         NavForward,
		DistanceMeters: dist,
		BearingDeg:     bearing,
		Waypoint:       next,
		WaypointIndex:  idx,
		WaypointCount:  p.waypointCount,
	}

	if heading.X == 0 && heading.Y == 0 {
		return instr
	}

	headingDeg := normalizeDeg(math.Atan2(heading.Y, heading.X) * 180 / math.Pi)
	delta := angularDelta(headingDeg, bearing)
	if math.Abs(delta) > p.turnThresholdDeg {
		instr.Action = NavTurn
		instr.TurnDegrees = math.Abs(delta)
		if delta > 0 {
			instr.TurnDirection = TurnLeft
		} else {
			instr.TurnDirection = TurnRight
		}
	}
	return instr
}

// interpolateWaypoints splits the straight line from start to end into n
// evenly spaced points, the last being the target itself.
func interpolateWaypoints(start, end Point3, n int) []Point3 {
	if n < 1 {
		n = 1
	}
	out := make([]Point3, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		out[i-1] = Point3{
			X: start.X + t*(end.X-start.X),
			Y: start.Y + t*(end.Y-start.Y),
			Z: start.Z + t*(end.Z-start.Z),
		}
	}
	return out
}

// normalizeDeg maps an angle into [0, 360).
func normalizeDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// angularDelta returns the signed smallest rotation from `from` to `to` in
// degrees, positive counter-clockwise, in (−180, 180].
func angularDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}
