package tagbridge

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// ManualSource turns operator key presses into scan events. It feeds the same
// sink as the bridge client, so the engine applies the same idempotency rules.
type ManualSource struct {
	sink         ScanSink
	timeProvider timeutil.Provider
	logger       *logger.Logger
}

// NewManualSource creates a ManualSource writing to sink.
func NewManualSource(sink ScanSink, logger *logger.Logger) *ManualSource {
	return &ManualSource{
		sink:         sink,
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "manual_scan_source"),
	}
}

// KeyItem maps an operator key to the item it simulates.
func KeyItem(key rune) (gate.ItemKind, bool) {
	switch unicode.ToLower(key) {
	case 'h':
		return gate.ItemHelmet, true
	case 'v':
		return gate.ItemVest, true
	case 's', 'b':
		return gate.ItemShoes, true
	default:
		return "", false
	}
}

// Press emits a scan event for key.
func (m *ManualSource) Press(ctx context.Context, key rune) error {
	kind, ok := KeyItem(key)
	if !ok {
		return fmt.Errorf("%w: no item bound to key %q", gate.ErrUnknownItemKind, key)
	}

	evt := gate.NewScanEvent(kind, gate.ScanSourceManual, m.timeProvider.Now())
	m.logger.Info(ctx, "Manual scan", "item", kind, "evidence_id", evt.EvidenceID())
	return m.sink.HandleScan(ctx, evt)
}

// PressKey is Press for a textual key as received over the API. Only the
// first character counts.
func (m *ManualSource) PressKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	r, _ := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return fmt.Errorf("%w: empty key", gate.ErrUnknownItemKind)
	}
	return m.Press(ctx, r)
}
