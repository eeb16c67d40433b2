// Package tagbridge subscribes to the tag reader bridge and turns its
// presence snapshots into scan events.
package tagbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/otel"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// DefaultReconnectBackoff is the fixed delay between connection attempts.
const DefaultReconnectBackoff = 3 * time.Second

// ConnectionState reports whether the bridge subscription is up.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnected    ConnectionState = "CONNECTED"
)

// ScanSink receives synthesized scan events. The verification engine is the
// production sink.
type ScanSink interface {
	HandleScan(ctx context.Context, evt gate.ScanEvent) error
}

// Config locates the bridge.
type Config struct {
	// BridgeURL is the websocket subscription endpoint (ws:// or wss://).
	BridgeURL string
	// ControlURL is the HTTP base of the bridge control surface.
	ControlURL string
	// ReconnectBackoff defaults to DefaultReconnectBackoff.
	ReconnectBackoff time.Duration
	// RequestTimeout bounds control calls.
	RequestTimeout time.Duration
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the client used for control calls.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.httpClient = hc } }

// WithTimeProvider replaces the clock used to stamp scan events.
func WithTimeProvider(tp timeutil.Provider) ClientOption {
	return func(c *Client) { c.timeProvider = tp }
}

// Client keeps a long-lived subscription to the reader bridge. It diffs every
// snapshot against the previous one and emits a scan event only when an item
// goes from absent to present. The connection outlives sessions; only the
// snapshot cache is session-scoped.
type Client struct {
	cfg  Config
	sink ScanSink

	httpClient *http.Client

	mu        sync.Mutex
	prev      *Snapshot
	state     ConnectionState
	listeners []func(ConnectionState)

	timeProvider timeutil.Provider

	logger  *logger.Logger
	metrics TagMetrics
	tracer  trace.Tracer
}

// NewClient creates a disconnected client. Call Run to connect.
func NewClient(
	cfg Config,
	sink ScanSink,
	logger *logger.Logger,
	metrics TagMetrics,
	tracer trace.Tracer,
	opts ...ClientOption,
) *Client {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	c := &Client{
		cfg:          cfg,
		sink:         sink,
		state:        StateDisconnected,
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "tag_bridge_client", "bridge_url", cfg.BridgeURL),
		metrics:      metrics,
		tracer:       tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = otel.NewHTTPClient(cfg.RequestTimeout)
	}
	return c
}

// ConnectionState returns the current subscription state.
func (c *Client) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to be called on every connection state change.
func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ResetDedup forgets the previous snapshot so items already present are
// reported again to the next session. The connection is left alone.
func (c *Client) ResetDedup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prev = nil
}

// SessionStarted resets the snapshot cache for the new session.
func (c *Client) SessionStarted(ctx context.Context, sessionID uuid.UUID) {
	c.ResetDedup()
	c.logger.Debug(ctx, "Snapshot cache reset for new session", "session_id", sessionID)
}

// SessionEnded resets the snapshot cache once a session is over.
func (c *Client) SessionEnded(ctx context.Context, sessionID uuid.UUID) {
	c.ResetDedup()
	c.logger.Debug(ctx, "Snapshot cache reset after session", "session_id", sessionID)
}

// Run keeps the subscription alive until ctx is done, reconnecting after a
// fixed delay whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info(ctx, "Starting tag bridge client", "reconnect_backoff", c.cfg.ReconnectBackoff)

	b := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.ReconnectBackoff), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn(ctx, "Tag bridge unavailable, will reconnect", "error", err, "retry_in", wait)
	}

	err := backoff.RetryNotify(func() error {
		err := c.subscribe(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, b, notify)

	c.logger.Info(ctx, "Tag bridge client stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// subscribe holds one connection until it fails. It always returns a
// ChannelError describing why the connection ended.
func (c *Client) subscribe(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "tag_bridge_client.subscribe")
	defer span.End()

	conn, _, err := websocket.Dial(ctx, c.cfg.BridgeURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return &gate.ChannelError{Op: "dial", Err: err}
	}
	defer conn.CloseNow()

	// Stale presence from before the outage must not produce edges.
	c.ResetDedup()
	c.setState(ctx, StateConnected)
	c.metrics.IncConnects(ctx)
	defer func() {
		c.setState(ctx, StateDisconnected)
		c.metrics.IncDisconnects(ctx)
	}()

	for {
		var snap Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = fmt.Errorf("bridge closed the connection: %w", err)
			}
			span.RecordError(err)
			return &gate.ChannelError{Op: "read", Err: err}
		}
		c.handleSnapshot(ctx, snap)
	}
}

func (c *Client) handleSnapshot(ctx context.Context, snap Snapshot) {
	c.metrics.IncSnapshots(ctx)

	c.mu.Lock()
	kinds := risingEdges(c.prev, snap)
	cp := snap
	c.prev = &cp
	c.mu.Unlock()

	// The bridge's own verdict is diagnostic only.
	c.logger.Debug(ctx, "Tag snapshot received",
		"scanning", snap.Scanning,
		"gate_state", snap.GateState,
		"outcome", snap.Outcome,
		"new_items", len(kinds),
	)

	for _, kind := range kinds {
		evt := gate.NewScanEvent(kind, gate.ScanSourceBridge, c.timeProvider.Now())
		c.metrics.IncScanEvents(ctx, kind.String())
		if err := c.sink.HandleScan(ctx, evt); err != nil {
			c.logger.Debug(ctx, "Scan event not applied", "item", kind, "evidence_id", evt.EvidenceID(), "error", err)
		}
	}
}

func (c *Client) setState(ctx context.Context, state ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	listeners := append(([]func(ConnectionState))(nil), c.listeners...)
	c.mu.Unlock()

	c.logger.Info(ctx, "Tag bridge connection state changed", "state", state)
	for _, fn := range listeners {
		fn(state)
	}
}

// RequestScanStart asks the bridge to begin a scan. A rejection or an
// unreachable bridge reports false so the caller can fall back to manual
// input; only a malformed control URL is an error.
func (c *Client) RequestScanStart(ctx context.Context) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "tag_bridge_client.request_scan_start",
		trace.WithAttributes(attribute.String("control_url", c.cfg.ControlURL)))
	defer span.End()

	endpoint, err := startScanURL(c.cfg.ControlURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid control url")
		return false, &gate.ChannelError{Op: "start_scan", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		span.RecordError(err)
		return false, &gate.ChannelError{Op: "start_scan", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		c.metrics.IncStartScanRequests(ctx, false)
		c.logger.Warn(ctx, "Start-scan request failed", "error", err)
		return false, nil
	}
	defer resp.Body.Close()

	accepted := resp.StatusCode >= 200 && resp.StatusCode < 300
	span.SetAttributes(attribute.Int("status_code", resp.StatusCode), attribute.Bool("accepted", accepted))
	c.metrics.IncStartScanRequests(ctx, accepted)
	if !accepted {
		c.logger.Warn(ctx, "Bridge rejected start-scan request", "status_code", resp.StatusCode)
	}
	return accepted, nil
}

var errControlURL = errors.New("control url must be an absolute http(s) url")

func startScanURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", errControlURL, base)
	}
	return u.JoinPath("start-scan").String(), nil
}
