package gate

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// DefaultConfidenceThreshold is the detection confidence an item must
	// exceed before its detection channel passes.
	DefaultConfidenceThreshold = 0.4

	// DefaultIdentityFloor is the minimum confidence for an identity candidate.
	DefaultIdentityFloor = 0.3
)

// Policy decides which channels must pass for each item and how confident a
// detection has to be. It is configuration; sessions copy the policy they
// were started with.
type Policy struct {
	required            map[ItemKind][]Channel
	confidenceThreshold float64
	identityFloor       float64
}

// DefaultPolicy returns the policy used by deployed gates: helmet, vest and
// shoes need both channels while the face needs a detection only.
func DefaultPolicy() Policy {
	p, _ := NewPolicy(map[ItemKind][]Channel{
		ItemHelmet: {ChannelTag, ChannelDetection},
		ItemVest:   {ChannelTag, ChannelDetection},
		ItemShoes:  {ChannelTag, ChannelDetection},
		ItemFace:   {ChannelDetection},
	}, DefaultConfidenceThreshold, DefaultIdentityFloor)
	return p
}

// NewPolicy validates and builds a Policy. Items absent from required are not
// checked at this gate.
func NewPolicy(required map[ItemKind][]Channel, confidenceThreshold, identityFloor float64) (Policy, error) {
	if len(required) == 0 {
		return Policy{}, errors.New("policy must require at least one item")
	}
	if confidenceThreshold < 0 || confidenceThreshold >= 1 {
		return Policy{}, fmt.Errorf("confidence threshold %v out of range [0,1)", confidenceThreshold)
	}
	if identityFloor < 0 || identityFloor >= 1 {
		return Policy{}, fmt.Errorf("identity floor %v out of range [0,1)", identityFloor)
	}

	out := make(map[ItemKind][]Channel, len(required))
	for kind, channels := range required {
		if !kind.Valid() {
			return Policy{}, fmt.Errorf("%w: %q", ErrUnknownItemKind, kind)
		}
		if len(channels) == 0 {
			return Policy{}, fmt.Errorf("item %s requires no channel", kind)
		}
		seen := make(map[Channel]struct{}, len(channels))
		for _, ch := range channels {
			if ch != ChannelTag && ch != ChannelDetection {
				return Policy{}, fmt.Errorf("item %s: unknown channel %q", kind, ch)
			}
			if _, dup := seen[ch]; dup {
				return Policy{}, fmt.Errorf("item %s: channel %s listed twice", kind, ch)
			}
			seen[ch] = struct{}{}
		}
		out[kind] = slices.Clone(channels)
	}

	return Policy{
		required:            out,
		confidenceThreshold: confidenceThreshold,
		identityFloor:       identityFloor,
	}, nil
}

// Items returns the checked items in display order.
func (p Policy) Items() []ItemKind {
	items := make([]ItemKind, 0, len(p.required))
	for _, k := range AllItemKinds() {
		if _, ok := p.required[k]; ok {
			items = append(items, k)
		}
	}
	return items
}

// RequiredChannels returns the channels that must pass for kind.
func (p Policy) RequiredChannels(kind ItemKind) []Channel {
	return slices.Clone(p.required[kind])
}

// Requires reports whether ch must pass for kind.
func (p Policy) Requires(kind ItemKind, ch Channel) bool {
	return slices.Contains(p.required[kind], ch)
}

// TotalChecks is the number of (item, channel) pairs that must pass.
func (p Policy) TotalChecks() int {
	total := 0
	for _, channels := range p.required {
		total += len(channels)
	}
	return total
}

// ConfidenceThreshold is the exclusive lower bound for detection confidence.
func (p Policy) ConfidenceThreshold() float64 { return p.confidenceThreshold }

// IdentityFloor is the inclusive lower bound for identity candidates.
func (p Policy) IdentityFloor() float64 { return p.identityFloor }
