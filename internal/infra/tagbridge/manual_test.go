package tagbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

func TestKeyItem(t *testing.T) {
	tests := []struct {
		key  rune
		want gate.ItemKind
		ok   bool
	}{
		{'h', gate.ItemHelmet, true},
		{'H', gate.ItemHelmet, true},
		{'v', gate.ItemVest, true},
		{'s', gate.ItemShoes, true},
		{'b', gate.ItemShoes, true},
		{'f', "", false},
		{'x', "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			got, ok := KeyItem(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManualSource_Press(t *testing.T) {
	sink := new(recordingSink)
	src := NewManualSource(sink, logger.Noop())
	ctx := context.Background()

	require.NoError(t, src.PressKey(ctx, "b"))
	require.NoError(t, src.Press(ctx, 'h'))
	assert.ErrorIs(t, src.PressKey(ctx, "q"), gate.ErrUnknownItemKind)
	assert.ErrorIs(t, src.PressKey(ctx, "  "), gate.ErrUnknownItemKind)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, gate.ItemShoes, got[0].Kind())
	assert.Equal(t, gate.ScanSourceManual, got[0].Source())
	assert.NotEqual(t, got[0].EvidenceID(), got[1].EvidenceID())
}
