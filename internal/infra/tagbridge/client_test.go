package tagbridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// recordingSink implements ScanSink and keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []gate.ScanEvent
}

func (s *recordingSink) HandleScan(_ context.Context, evt gate.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) all() []gate.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gate.ScanEvent(nil), s.events...)
}

func (s *recordingSink) kinds() []gate.ItemKind {
	var out []gate.ItemKind
	for _, e := range s.all() {
		out = append(out, e.Kind())
	}
	return out
}

// fakeBridge serves a scripted sequence of snapshots. A nil entry closes the
// current connection so the client has to reconnect.
type fakeBridge struct {
	script chan *Snapshot
	done   chan struct{}
	srv    *httptest.Server
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{script: make(chan *Snapshot, 16), done: make(chan struct{})}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		for {
			select {
			case snap := <-b.script:
				if snap == nil {
					_ = conn.Close(websocket.StatusGoingAway, "bridge restart")
					return
				}
				if err := wsjson.Write(context.Background(), conn, snap); err != nil {
					return
				}
			case <-b.done:
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(b.done)
		b.srv.Close()
	})
	return b
}

func (b *fakeBridge) wsURL() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func newTestClient(t *testing.T, cfg Config, sink ScanSink) *Client {
	t.Helper()
	metrics, err := NewTagMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return NewClient(cfg, sink, logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClient_UnchangedPresenceEmitsOnce(t *testing.T) {
	bridge := newFakeBridge(t)
	sink := new(recordingSink)
	c := newTestClient(t, Config{BridgeURL: bridge.wsURL(), ReconnectBackoff: 10 * time.Millisecond}, sink)
	runClient(t, c)

	bridge.script <- &Snapshot{Scanning: true, Items: ItemPresence{Helmet: true}}
	bridge.script <- &Snapshot{Scanning: true, Items: ItemPresence{Helmet: true}}
	bridge.script <- &Snapshot{Scanning: true, Items: ItemPresence{Helmet: true, Boots: true}}

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	// Give a duplicate a chance to show up.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []gate.ItemKind{gate.ItemHelmet, gate.ItemShoes}, sink.kinds())
	for _, evt := range sink.all() {
		assert.Equal(t, gate.ScanSourceBridge, evt.Source())
	}
	assert.Equal(t, StateConnected, c.ConnectionState())
}

func TestClient_ReconnectResetsCache(t *testing.T) {
	bridge := newFakeBridge(t)
	sink := new(recordingSink)
	c := newTestClient(t, Config{BridgeURL: bridge.wsURL(), ReconnectBackoff: 10 * time.Millisecond}, sink)

	var mu sync.Mutex
	var states []ConnectionState
	c.OnStateChange(func(s ConnectionState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})
	runClient(t, c)

	bridge.script <- &Snapshot{Items: ItemPresence{Vest: true}}
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	bridge.script <- nil
	bridge.script <- &Snapshot{Items: ItemPresence{Vest: true}}

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []gate.ItemKind{gate.ItemVest, gate.ItemVest}, sink.kinds())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{StateConnected, StateDisconnected, StateConnected}, states)
}

func TestClient_ResetDedupReportsPresentItemsAgain(t *testing.T) {
	sink := new(recordingSink)
	c := newTestClient(t, Config{BridgeURL: "ws://unused"}, sink)
	ctx := context.Background()

	c.handleSnapshot(ctx, Snapshot{Items: ItemPresence{Helmet: true}})
	c.handleSnapshot(ctx, Snapshot{Items: ItemPresence{Helmet: true}})
	require.Len(t, sink.all(), 1)

	c.ResetDedup()
	c.handleSnapshot(ctx, Snapshot{Items: ItemPresence{Helmet: true}})
	assert.Len(t, sink.all(), 2)
}

func TestClient_StaysDisconnectedWithoutBridge(t *testing.T) {
	c := newTestClient(t, Config{BridgeURL: "ws://127.0.0.1:1", ReconnectBackoff: 5 * time.Millisecond}, new(recordingSink))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateDisconnected, c.ConnectionState())
}

func TestClient_RequestScanStart(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		controlURL func(srv *httptest.Server) string
		want       bool
		wantErr    bool
	}{
		{name: "accepted", status: http.StatusOK, want: true},
		{name: "accepted with no content", status: http.StatusNoContent, want: true},
		{name: "rejected", status: http.StatusConflict, want: false},
		{
			name:       "unreachable",
			controlURL: func(*httptest.Server) string { return "http://127.0.0.1:1" },
			want:       false,
		},
		{
			name:       "malformed url",
			controlURL: func(*httptest.Server) string { return "bridge:8080" },
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotMethod string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath, gotMethod = r.URL.Path, r.Method
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			controlURL := srv.URL
			if tt.controlURL != nil {
				controlURL = tt.controlURL(srv)
			}
			c := newTestClient(t, Config{BridgeURL: "ws://unused", ControlURL: controlURL}, new(recordingSink))

			started, err := c.RequestScanStart(context.Background())
			if tt.wantErr {
				var chErr *gate.ChannelError
				assert.ErrorAs(t, err, &chErr)
				assert.False(t, started)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, started)
			if tt.controlURL == nil {
				assert.Equal(t, "/start-scan", gotPath)
				assert.Equal(t, http.MethodPost, gotMethod)
			}
		})
	}
}
