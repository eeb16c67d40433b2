package detection

import (
	"context"
	"strings"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// Observation is one labelled detection as reported by a classifier.
type Observation struct {
	Label      string
	Confidence float64
	// Violation is set when the classifier reports the item as missing.
	Violation bool
}

// Result is a classifier's answer for one frame.
type Result struct {
	Observations []Observation
	Candidates   []gate.Identity
}

// Classifier sends one frame to a detection endpoint.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, frame gate.Frame) (Result, error)
}

// unknownIdentities are sentinels recognisers return instead of a person.
var unknownIdentities = map[string]struct{}{
	"unknown": {},
	"ignore":  {},
	"none":    {},
}

func isUnknownIdentity(id gate.Identity) bool {
	if strings.TrimSpace(id.ID) == "" {
		return true
	}
	_, ok := unknownIdentities[strings.ToLower(strings.TrimSpace(id.ID))]
	if ok {
		return true
	}
	_, ok = unknownIdentities[strings.ToLower(strings.TrimSpace(id.Name))]
	return ok
}

// SelectIdentity picks the most confident candidate at or above floor that
// is not an unknown sentinel.
func SelectIdentity(candidates []gate.Identity, floor float64) (gate.Identity, bool) {
	var (
		best  gate.Identity
		found bool
	)
	for _, c := range candidates {
		if isUnknownIdentity(c) || c.Confidence < floor {
			continue
		}
		if !found || c.Confidence > best.Confidence {
			best, found = c, true
		}
	}
	return best, found
}
