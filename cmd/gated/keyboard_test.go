package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

type recordedActions struct {
	pressed []rune
	starts  int
	resets  int
}

func (r *recordedActions) actions(pressErr error) keyboardActions {
	return keyboardActions{
		press: func(_ context.Context, key rune) error {
			r.pressed = append(r.pressed, key)
			return pressErr
		},
		start: func(context.Context) error { r.starts++; return nil },
		reset: func(context.Context) { r.resets++ },
	}
}

func TestKeyboardLoop(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantPressed []rune
		wantStarts  int
		wantResets  int
	}{
		{
			name:        "item keys are pressed in order",
			input:       "hvsb",
			wantPressed: []rune{'h', 'v', 's', 'b'},
		},
		{
			name:        "quit stops reading",
			input:       "hqv",
			wantPressed: []rune{'h'},
		},
		{
			name:        "ctrl-c stops reading",
			input:       "v\x03h",
			wantPressed: []rune{'v'},
		},
		{
			name:        "session commands",
			input:       "nhrn",
			wantPressed: []rune{'h'},
			wantStarts:  2,
			wantResets:  1,
		},
		{
			name:  "whitespace is ignored",
			input: "\r\n \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recordedActions
			err := keyboardLoop(context.Background(), strings.NewReader(tt.input), rec.actions(nil), logger.Noop())
			require.NoError(t, err)

			assert.Equal(t, tt.wantPressed, rec.pressed)
			assert.Equal(t, tt.wantStarts, rec.starts)
			assert.Equal(t, tt.wantResets, rec.resets)
		})
	}
}

func TestKeyboardLoop_PressErrorsDoNotStopLoop(t *testing.T) {
	var rec recordedActions
	pressErr := fmt.Errorf("%w: x", gate.ErrUnknownItemKind)

	err := keyboardLoop(context.Background(), strings.NewReader("xyh"), rec.actions(pressErr), logger.Noop())
	require.NoError(t, err)
	assert.Equal(t, []rune{'x', 'y', 'h'}, rec.pressed)

	rec = recordedActions{}
	err = keyboardLoop(context.Background(), strings.NewReader("hv"), rec.actions(errors.New("no active session")), logger.Noop())
	require.NoError(t, err)
	assert.Len(t, rec.pressed, 2)
}

func TestKeyboardLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recordedActions
	err := keyboardLoop(ctx, strings.NewReader("hvs"), rec.actions(nil), logger.Noop())
	require.NoError(t, err)
	assert.Empty(t, rec.pressed)
}
