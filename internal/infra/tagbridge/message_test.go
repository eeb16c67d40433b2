package tagbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

func TestRisingEdges(t *testing.T) {
	tests := []struct {
		name string
		prev *Snapshot
		next Snapshot
		want []gate.ItemKind
	}{
		{
			name: "first snapshot reports everything present",
			next: Snapshot{Items: ItemPresence{Helmet: true, Boots: true}},
			want: []gate.ItemKind{gate.ItemHelmet, gate.ItemShoes},
		},
		{
			name: "unchanged presence does not re-fire",
			prev: &Snapshot{Items: ItemPresence{Helmet: true}},
			next: Snapshot{Items: ItemPresence{Helmet: true}},
			want: nil,
		},
		{
			name: "only newly present items",
			prev: &Snapshot{Items: ItemPresence{Helmet: true}},
			next: Snapshot{Items: ItemPresence{Helmet: true, Vest: true}},
			want: []gate.ItemKind{gate.ItemVest},
		},
		{
			name: "falling edge is silent",
			prev: &Snapshot{Items: ItemPresence{Vest: true}},
			next: Snapshot{},
			want: nil,
		},
		{
			name: "re-presented after absence",
			prev: &Snapshot{},
			next: Snapshot{Items: ItemPresence{Vest: true}},
			want: []gate.ItemKind{gate.ItemVest},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, risingEdges(tt.prev, tt.next))
		})
	}
}
