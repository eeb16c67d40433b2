package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 7, p.TotalChecks())
	assert.Equal(t, []ItemKind{ItemHelmet, ItemVest, ItemShoes, ItemFace}, p.Items())
	assert.True(t, p.Requires(ItemShoes, ChannelTag))
	assert.True(t, p.Requires(ItemFace, ChannelDetection))
	assert.False(t, p.Requires(ItemFace, ChannelTag))
	assert.Equal(t, DefaultConfidenceThreshold, p.ConfidenceThreshold())
	assert.Equal(t, DefaultIdentityFloor, p.IdentityFloor())
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name     string
		required map[ItemKind][]Channel
		thr      float64
		floor    float64
		wantErr  bool
	}{
		{
			name:     "valid",
			required: map[ItemKind][]Channel{ItemVest: {ChannelDetection}},
			thr:      0.5,
			floor:    0.2,
		},
		{name: "empty", required: map[ItemKind][]Channel{}, thr: 0.4, floor: 0.3, wantErr: true},
		{
			name:     "unknown item",
			required: map[ItemKind][]Channel{"GLOVES": {ChannelTag}},
			thr:      0.4,
			floor:    0.3,
			wantErr:  true,
		},
		{
			name:     "no channels",
			required: map[ItemKind][]Channel{ItemVest: {}},
			thr:      0.4,
			floor:    0.3,
			wantErr:  true,
		},
		{
			name:     "duplicate channel",
			required: map[ItemKind][]Channel{ItemVest: {ChannelTag, ChannelTag}},
			thr:      0.4,
			floor:    0.3,
			wantErr:  true,
		},
		{
			name:     "threshold out of range",
			required: map[ItemKind][]Channel{ItemVest: {ChannelTag}},
			thr:      1.2,
			floor:    0.3,
			wantErr:  true,
		},
		{
			name:     "floor out of range",
			required: map[ItemKind][]Channel{ItemVest: {ChannelTag}},
			thr:      0.4,
			floor:    -0.1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.required, tt.thr, tt.floor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.thr, p.ConfidenceThreshold())
		})
	}
}

func TestPolicy_RequiredChannelsIsCopy(t *testing.T) {
	p := DefaultPolicy()
	chs := p.RequiredChannels(ItemHelmet)
	chs[0] = ChannelDetection
	assert.Equal(t, ChannelTag, p.RequiredChannels(ItemHelmet)[0])
}
