package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(DefaultAliases())

	tests := []struct {
		label string
		want  gate.ItemKind
		ok    bool
	}{
		{label: "Helmet", want: gate.ItemHelmet, ok: true},
		{label: "hardhat", want: gate.ItemHelmet, ok: true},
		{label: "Hard Hat", want: gate.ItemHelmet, ok: true},
		{label: "hard-hat", want: gate.ItemHelmet, ok: true},
		{label: "HARD_HAT", want: gate.ItemHelmet, ok: true},
		{label: "yellow hardhat worn", want: gate.ItemHelmet, ok: true},
		{label: "Safety-Vest", want: gate.ItemVest, ok: true},
		{label: "hi-vis", want: gate.ItemVest, ok: true},
		{label: "Safety Boots", want: gate.ItemShoes, ok: true},
		{label: "footwear", want: gate.ItemShoes, ok: true},
		{label: "Face", want: gate.ItemFace, ok: true},
		{label: "NO-Hardhat", want: gate.ItemHelmet, ok: true},
		{label: "no vest", want: gate.ItemVest, ok: true},
		{label: "gloves", ok: false},
		{label: "person", ok: false},
		{label: "", ok: false},
		{label: "---", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := n.Normalize(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizer_ExactBeatsSubstring(t *testing.T) {
	n := NewNormalizer(map[gate.ItemKind][]string{
		gate.ItemVest:   {"vest"},
		gate.ItemHelmet: {"helmet vest"},
	})

	got, ok := n.Normalize("Helmet-Vest")
	assert.True(t, ok)
	assert.Equal(t, gate.ItemHelmet, got)

	got, ok = n.Normalize("orange vest")
	assert.True(t, ok)
	assert.Equal(t, gate.ItemVest, got)
}

func TestNormalizer_IsViolation(t *testing.T) {
	n := NewNormalizer(DefaultAliases())

	assert.True(t, n.IsViolation("NO-Hardhat"))
	assert.True(t, n.IsViolation("no_safety_vest"))
	assert.True(t, n.IsViolation("Without helmet"))
	assert.False(t, n.IsViolation("helmet"))
	assert.False(t, n.IsViolation("north face"))
}

func TestNormalizer_IgnoresUnknownKinds(t *testing.T) {
	n := NewNormalizer(map[gate.ItemKind][]string{"GLOVES": {"glove"}})
	_, ok := n.Normalize("glove")
	assert.False(t, ok)
}

func TestSelectIdentity(t *testing.T) {
	tests := []struct {
		name   string
		cands  []gate.Identity
		wantID string
		ok     bool
	}{
		{name: "none", ok: false},
		{
			name:   "best above floor",
			cands:  []gate.Identity{{ID: "a", Confidence: 0.4}, {ID: "b", Confidence: 0.8}, {ID: "c", Confidence: 0.5}},
			wantID: "b",
			ok:     true,
		},
		{
			name:  "all below floor",
			cands: []gate.Identity{{ID: "a", Confidence: 0.29}},
			ok:    false,
		},
		{
			name:   "floor is inclusive",
			cands:  []gate.Identity{{ID: "a", Confidence: 0.3}},
			wantID: "a",
			ok:     true,
		},
		{
			name:   "unknown sentinel skipped",
			cands:  []gate.Identity{{ID: "unknown", Confidence: 0.99}, {ID: "p7", Name: "Ravi", Confidence: 0.6}},
			wantID: "p7",
			ok:     true,
		},
		{
			name:  "unknown by name or blank id",
			cands: []gate.Identity{{ID: "x", Name: "Unknown", Confidence: 0.9}, {ID: " ", Confidence: 0.9}},
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectIdentity(tt.cands, 0.3)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
