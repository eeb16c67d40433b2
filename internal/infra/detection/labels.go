package detection

import (
	"sort"
	"strings"

	regexp "github.com/wasilibs/go-re2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// DefaultAliases is the label vocabulary the detection services are known to
// use for each item.
func DefaultAliases() map[gate.ItemKind][]string {
	return map[gate.ItemKind][]string{
		gate.ItemHelmet: {"helmet", "hardhat", "hard hat", "safety helmet", "head protection"},
		gate.ItemVest:   {"vest", "safety vest", "hi vis", "high visibility", "reflective vest"},
		gate.ItemShoes:  {"shoes", "shoe", "boots", "boot", "safety boots", "safety shoes", "footwear"},
		gate.ItemFace:   {"face", "human face"},
	}
}

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// violationPrefixes mark labels such as "NO-Hardhat" or "no vest" that report
// a missing item. They are matched after canonicalization.
var violationPrefixes = []string{"no ", "without ", "missing "}

type alias struct {
	text string
	kind gate.ItemKind
}

// Normalizer maps free-form classifier labels onto the closed item set.
// Matching ignores case, accents and punctuation; an exact alias wins over a
// substring match, and longer aliases are tried first.
type Normalizer struct {
	exact   map[string]gate.ItemKind
	ordered []alias
}

// NewNormalizer builds a Normalizer from an alias table. Unknown item kinds
// are skipped.
func NewNormalizer(aliases map[gate.ItemKind][]string) *Normalizer {
	n := &Normalizer{
		exact: make(map[string]gate.ItemKind),
	}
	for kind, words := range aliases {
		if !kind.Valid() {
			continue
		}
		for _, w := range words {
			c := n.canonical(w)
			if c == "" {
				continue
			}
			if _, dup := n.exact[c]; dup {
				continue
			}
			n.exact[c] = kind
			n.ordered = append(n.ordered, alias{text: c, kind: kind})
		}
	}
	sort.Slice(n.ordered, func(i, j int) bool {
		if len(n.ordered[i].text) != len(n.ordered[j].text) {
			return len(n.ordered[i].text) > len(n.ordered[j].text)
		}
		return n.ordered[i].text < n.ordered[j].text
	})
	return n
}

// canonical folds case, decomposes accents and collapses punctuation into
// single spaces.
func (n *Normalizer) canonical(label string) string {
	s := norm.NFKD.String(label)
	s = strings.Map(func(r rune) rune {
		// Combining marks left behind by NFKD.
		if r >= 0x0300 && r <= 0x036f {
			return -1
		}
		return r
	}, s)
	// A Caser is stateful, so each call gets its own.
	s = cases.Fold().String(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Normalize returns the item label refers to. It reports false for labels
// outside the vocabulary.
func (n *Normalizer) Normalize(label string) (gate.ItemKind, bool) {
	c := n.canonical(label)
	if c == "" {
		return "", false
	}
	for _, p := range violationPrefixes {
		if rest, ok := strings.CutPrefix(c, p); ok && rest != "" {
			c = rest
			break
		}
	}
	return n.match(c)
}

// IsViolation reports whether label names a missing item rather than a
// present one.
func (n *Normalizer) IsViolation(label string) bool {
	c := n.canonical(label)
	for _, p := range violationPrefixes {
		if strings.HasPrefix(c, p) {
			return true
		}
	}
	return false
}

func (n *Normalizer) match(c string) (gate.ItemKind, bool) {
	if kind, ok := n.exact[c]; ok {
		return kind, true
	}
	squashed := strings.ReplaceAll(c, " ", "")
	if kind, ok := n.exact[squashed]; ok {
		return kind, true
	}
	for _, a := range n.ordered {
		if strings.Contains(c, a.text) || strings.Contains(squashed, strings.ReplaceAll(a.text, " ", "")) {
			return a.kind, true
		}
	}
	return "", false
}
