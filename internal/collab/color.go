package collab

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// Color returns the cursor color for a numeric connection id:
// hsl((id*47) mod 360, 70%, 50%). Negative ids wrap into [0, 360).
func Color(id int64) string {
	hue := (id % 360) * 47 % 360
	if hue < 0 {
		hue += 360
	}
	return fmt.Sprintf("hsl(%d,70%%,50%%)", hue)
}

// ColorFor returns the color for an opaque connection id. Decimal ids map
// through Color directly; any other id is hashed with FNV-1a first, so
// every participant computes the same color without coordination.
func ColorFor(connectionID string) string {
	if id, err := strconv.ParseInt(connectionID, 10, 64); err == nil {
		return Color(id)
	}
	h := fnv.New32a()
	h.Write([]byte(connectionID))
	return Color(int64(h.Sum32()))
}
