package config

import (
	"context"
	"fmt"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// PolicyConfig is the on-disk form of a gate policy: which channels each
// item needs, detection thresholds and extra label aliases.
type PolicyConfig struct {
	// Required maps item kinds ("helmet", "vest", "shoes", "face") to the
	// channels ("tag", "detection") that must pass.
	Required map[string][]string `yaml:"required"`
	// ConfidenceThreshold overrides the daemon setting when non-zero.
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`
	// IdentityFloor overrides the daemon setting when non-zero.
	IdentityFloor float64 `yaml:"identity_floor,omitempty"`
	// Aliases adds detector labels per item kind.
	Aliases map[string][]string `yaml:"aliases,omitempty"`
}

// Loader provides policy loading capabilities. It abstracts the source of
// the policy so files and embedded defaults are interchangeable.
type Loader interface {
	// Load retrieves and parses the policy from the underlying source.
	Load(ctx context.Context) (*PolicyConfig, error)
}

// BuildPolicy turns pc into a gate.Policy. A nil pc yields the default
// channel layout with the daemon's thresholds.
func BuildPolicy(cfg *Config, pc *PolicyConfig) (gate.Policy, error) {
	threshold, floor := cfg.ConfidenceThreshold, cfg.IdentityFloor
	if pc == nil || len(pc.Required) == 0 {
		def := gate.DefaultPolicy()
		required := make(map[gate.ItemKind][]gate.Channel)
		for _, kind := range def.Items() {
			required[kind] = def.RequiredChannels(kind)
		}
		return gate.NewPolicy(required, threshold, floor)
	}

	if pc.ConfidenceThreshold != 0 {
		threshold = pc.ConfidenceThreshold
	}
	if pc.IdentityFloor != 0 {
		floor = pc.IdentityFloor
	}

	required := make(map[gate.ItemKind][]gate.Channel, len(pc.Required))
	for item, channels := range pc.Required {
		kind, err := gate.ParseItemKind(item)
		if err != nil {
			return gate.Policy{}, fmt.Errorf("policy: %w", err)
		}
		for _, name := range channels {
			ch, err := gate.ParseChannel(name)
			if err != nil {
				return gate.Policy{}, fmt.Errorf("policy item %s: %w", kind, err)
			}
			required[kind] = append(required[kind], ch)
		}
	}
	return gate.NewPolicy(required, threshold, floor)
}

// MergeAliases adds the aliases from pc to base and returns the result.
// base is not modified.
func MergeAliases(base map[gate.ItemKind][]string, pc *PolicyConfig) (map[gate.ItemKind][]string, error) {
	out := make(map[gate.ItemKind][]string, len(base))
	for kind, labels := range base {
		out[kind] = append([]string(nil), labels...)
	}
	if pc == nil {
		return out, nil
	}
	for item, labels := range pc.Aliases {
		kind, err := gate.ParseItemKind(item)
		if err != nil {
			return nil, fmt.Errorf("aliases: %w", err)
		}
		out[kind] = append(out[kind], labels...)
	}
	return out, nil
}
