package tagbridge

import "github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"

// Snapshot is the presence state the reader bridge pushes on every change.
// Each message restates the whole state; it is not an event.
type Snapshot struct {
	Scanning  bool         `json:"scanning"`
	GateState string       `json:"gateState"`
	Outcome   string       `json:"outcome"`
	Items     ItemPresence `json:"items"`
}

// ItemPresence reports which tagged items the reader currently sees.
type ItemPresence struct {
	Helmet bool `json:"helmet"`
	Vest   bool `json:"vest"`
	Boots  bool `json:"boots"`
}

func (p ItemPresence) present(kind gate.ItemKind) bool {
	switch kind {
	case gate.ItemHelmet:
		return p.Helmet
	case gate.ItemVest:
		return p.Vest
	case gate.ItemShoes:
		return p.Boots
	default:
		return false
	}
}

var taggedItems = []gate.ItemKind{gate.ItemHelmet, gate.ItemVest, gate.ItemShoes}

// risingEdges returns the items that are present in next but were not in
// prev. A nil prev means nothing was seen yet.
func risingEdges(prev *Snapshot, next Snapshot) []gate.ItemKind {
	var kinds []gate.ItemKind
	for _, kind := range taggedItems {
		if !next.Items.present(kind) {
			continue
		}
		if prev != nil && prev.Items.present(kind) {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}
