// Package matcher finds the enrolled identity closest to a probe embedding.
package matcher

import (
	"math"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/roster"
)

// DefaultTolerance is the largest Euclidean distance accepted as a match
// when no tolerance is configured.
const DefaultTolerance = 0.6

type Result struct {
	Matched    bool
	IdentityID int64
	Name       string
	// Distance to the nearest reference, +Inf for an empty roster.
	Distance float64
}

// Match compares probe against every identity in snap and returns the nearest
// one if its distance is within tolerance. Equal distances resolve to the
// lowest identity ID.
func Match(probe []float32, snap *roster.Snapshot, tolerance float64) (Result, error) {
	if math.IsNaN(tolerance) || tolerance < 0 {
		return Result{}, apperror.Validation("tolerance must be a non-negative number")
	}
	if len(probe) != snap.Dim {
		return Result{}, apperror.DimensionMismatch(len(probe), snap.Dim)
	}

	best := -1
	bestDist := math.Inf(1)
	for i := range snap.Identities {
		d := EuclideanDistance(probe, snap.Identities[i].Embedding)
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	res := Result{Distance: bestDist}
	if best >= 0 {
		res.IdentityID = snap.Identities[best].ID
		res.Name = snap.Identities[best].Name
		res.Matched = bestDist <= tolerance
	}
	if !res.Matched {
		res.IdentityID, res.Name = 0, ""
	}
	return res, nil
}

// Nearest is Match without the tolerance cut: it reports the closest identity
// even when it would not be accepted. ok is false for an empty roster.
func Nearest(probe []float32, snap *roster.Snapshot) (res Result, ok bool, err error) {
	res, err = Match(probe, snap, math.MaxFloat64)
	if err != nil {
		return Result{}, false, err
	}
	return res, res.Matched, nil
}

// EuclideanDistance assumes len(a) == len(b). Accumulates in float64.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
