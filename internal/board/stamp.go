package board

// Stamp orders concurrent writes to the same field.
//
// A higher Clock wins. On equal clocks the lexicographically lower Origin
// wins, and on equal origins the lower OpID wins, so any two distinct
// stamps are totally ordered independent of arrival sequence.
type Stamp struct {
	Clock  int64  `json:"clock"`
	Origin string `json:"origin"`
	OpID   string `json:"opId"`
}

// IsZero reports whether s is the stamp of a field never written.
func (s Stamp) IsZero() bool {
	return s == Stamp{}
}

// Beats reports whether a write stamped s overrides one stamped o.
// The zero stamp loses to every real stamp; equal stamps never beat each
// other, which makes reapplying the same op a no-op.
func (s Stamp) Beats(o Stamp) bool {
	if o.IsZero() {
		return !s.IsZero()
	}
	if s.Clock != o.Clock {
		return s.Clock > o.Clock
	}
	if s.Origin != o.Origin {
		return s.Origin < o.Origin
	}
	return s.OpID < o.OpID
}

// Max returns whichever stamp wins.
func Max(a, b Stamp) Stamp {
	if b.Beats(a) {
		return b
	}
	return a
}
