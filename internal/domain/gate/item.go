package gate

import (
	"fmt"
	"strings"
)

// ItemKind identifies a safety item checked at the gate. The set is closed.
type ItemKind string

const (
	// ItemHelmet is a hard hat.
	ItemHelmet ItemKind = "HELMET"
	// ItemVest is a high-visibility vest.
	ItemVest ItemKind = "VEST"
	// ItemShoes are safety boots. Tag bridges report them as "boots".
	ItemShoes ItemKind = "SHOES"
	// ItemFace is the wearer's face, used for identity and presence.
	ItemFace ItemKind = "FACE"
)

// AllItemKinds returns every item kind in display order.
func AllItemKinds() []ItemKind {
	return []ItemKind{ItemHelmet, ItemVest, ItemShoes, ItemFace}
}

func (k ItemKind) String() string { return string(k) }

// Valid reports whether k is a member of the closed set.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemHelmet, ItemVest, ItemShoes, ItemFace:
		return true
	default:
		return false
	}
}

// ParseItemKind converts a wire or config name into an ItemKind.
func ParseItemKind(s string) (ItemKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HELMET":
		return ItemHelmet, nil
	case "VEST":
		return ItemVest, nil
	case "SHOES", "BOOTS":
		return ItemShoes, nil
	case "FACE":
		return ItemFace, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownItemKind, s)
	}
}

// Channel is an independent evidence source for an item.
type Channel string

const (
	// ChannelTag is the RFID-style reader bridge.
	ChannelTag Channel = "TAG"
	// ChannelDetection is the computer-vision classifier.
	ChannelDetection Channel = "DETECTION"
)

func (c Channel) String() string { return string(c) }

// ParseChannel converts a config name into a Channel.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TAG", "RFID":
		return ChannelTag, nil
	case "DETECTION", "VISION":
		return ChannelDetection, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}
