package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

func TestFrameStore(t *testing.T) {
	clock := timeutil.NewMock(time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC))
	store := NewFrameStore(5*time.Second, clock)

	_, ok := store.Latest()
	assert.False(t, ok, "empty store")

	store.Put(gate.Frame{Data: []byte{1}})
	f, ok := store.Latest()
	assert.True(t, ok)
	assert.Equal(t, clock.Now(), f.CapturedAt)

	clock.Advance(6 * time.Second)
	_, ok = store.Latest()
	assert.False(t, ok, "stale frame")

	store.Put(gate.Frame{Data: []byte{2}})
	f, ok = store.Latest()
	assert.True(t, ok)
	assert.Equal(t, []byte{2}, f.Data)
}
