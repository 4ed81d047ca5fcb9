// Package matcher decides whether a face embedding belongs to an existing identity.
package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/andresmejia3/facegroup/internal/types"
	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the maximum euclidean distance for two faces to count as the same person.
// Lower is stricter.
const DefaultThreshold = 0.6

// Policy selects which representative wins when several are within the threshold.
type Policy int

const (
	// FirstMatch picks the earliest-created representative within the threshold,
	// even when a later one is closer.
	FirstMatch Policy = iota
	// NearestMatch picks the closest representative within the threshold.
	// Equal distances resolve to the earlier representative.
	NearestMatch
)

func (p Policy) String() string {
	switch p {
	case NearestMatch:
		return "nearest"
	default:
		return "first"
	}
}

// ParsePolicy maps a CLI value ("first", "nearest") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "first-match":
		return FirstMatch, nil
	case "nearest", "nearest-match":
		return NearestMatch, nil
	default:
		return FirstMatch, fmt.Errorf("unknown match policy %q (want first or nearest)", s)
	}
}

// Distance returns the euclidean distance between two embeddings.
// Embeddings of different length are infinitely far apart.
func Distance(a, b types.Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2)
}

// Match returns the index of the first representative whose distance to candidate
// is <= threshold. ok is false when the list is empty or nothing is close enough.
func Match(candidate types.Embedding, representatives []types.Embedding, threshold float64) (index int, ok bool) {
	for i, rep := range representatives {
		if Distance(candidate, rep) <= threshold {
			return i, true
		}
	}
	return -1, false
}

// Nearest returns the index of the closest representative within threshold.
func Nearest(candidate types.Embedding, representatives []types.Embedding, threshold float64) (index int, ok bool) {
	best := -1
	minDist := math.Inf(1)
	for i, rep := range representatives {
		d := Distance(candidate, rep)
		if d <= threshold && d < minDist {
			minDist = d
			best = i
		}
	}
	return best, best != -1
}

// Matcher bundles a threshold with a tie-break policy.
type Matcher struct {
	Threshold float64
	Policy    Policy
}

// Default returns the first-match matcher at DefaultThreshold.
func Default() Matcher {
	return Matcher{Threshold: DefaultThreshold, Policy: FirstMatch}
}

// Match dispatches to Match or Nearest according to the policy.
func (m Matcher) Match(candidate types.Embedding, representatives []types.Embedding) (int, bool) {
	if m.Policy == NearestMatch {
		return Nearest(candidate, representatives, m.Threshold)
	}
	return Match(candidate, representatives, m.Threshold)
}
