// Package menu holds the restaurant's food catalog: the authoritative list of
// orderable items with their prices.
//
// The catalog serves three consumers: the realtime session instructions (as a
// rendered menu text block), the post-call extraction prompt (to constrain
// food names to catalog items), and order pricing (quantity × unit price,
// summed without tax).
//
// Item lookup is tolerant of the small distortions speech transcription
// introduces ("margarita" for "Margherita"); it falls back to Jaro-Winkler
// similarity when no exact match is found.
package menu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// fuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy item match.
const fuzzyThreshold = 0.88

// ErrUnknownItem is returned by PriceLines for a food name that matches no
// catalog item even after fuzzy lookup.
var ErrUnknownItem = errors.New("menu: unknown item")

// Item is one orderable entry in the catalog.
type Item struct {
	// Name is the item's menu name (e.g., "Margherita").
	Name string `yaml:"name"`

	// Description lists the ingredients and preparation, spoken by the
	// assistant when asked.
	Description string `yaml:"description"`

	// PriceCents is the unit price in US cents, tax excluded.
	PriceCents int `yaml:"price_cents"`
}

// Section groups related items under a heading (e.g., "Pizze (Red Pizza)").
type Section struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

// Catalog is the full menu. It is read-only after Load and safe for
// concurrent use.
type Catalog struct {
	Sections []Section `yaml:"sections"`

	// byKey indexes items by normalised name for exact lookup.
	byKey map[string]*Item
}

// Load reads the YAML catalog file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("menu: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("menu: parse %q: %w", path, err)
	}
	return c, nil
}

// LoadFromReader decodes a YAML catalog from r and builds the lookup index.
// Useful in tests where catalogs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("menu: decode yaml: %w", err)
	}
	if err := c.buildIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) buildIndex() error {
	c.byKey = make(map[string]*Item)
	for si := range c.Sections {
		sec := &c.Sections[si]
		if sec.Name == "" {
			return fmt.Errorf("menu: sections[%d].name is required", si)
		}
		for ii := range sec.Items {
			it := &sec.Items[ii]
			if it.Name == "" {
				return fmt.Errorf("menu: section %q items[%d].name is required", sec.Name, ii)
			}
			if it.PriceCents <= 0 {
				return fmt.Errorf("menu: item %q has non-positive price", it.Name)
			}
			key := normalize(it.Name)
			if _, ok := c.byKey[key]; ok {
				return fmt.Errorf("menu: item %q is a duplicate", it.Name)
			}
			c.byKey[key] = it
		}
	}
	if len(c.byKey) == 0 {
		return errors.New("menu: catalog has no items")
	}
	return nil
}

// Lookup finds the catalog item for name. It tries a normalised exact match
// first, then the best Jaro-Winkler fuzzy match above the threshold.
func (c *Catalog) Lookup(name string) (Item, bool) {
	key := normalize(name)
	if it, ok := c.byKey[key]; ok {
		return *it, true
	}

	var best *Item
	bestScore := fuzzyThreshold
	for k, it := range c.byKey {
		score := matchr.JaroWinkler(key, k, false)
		if score > bestScore {
			bestScore = score
			best = it
		}
	}
	if best == nil {
		return Item{}, false
	}
	return *best, true
}

// Line is one requested food line before pricing.
type Line struct {
	Name     string
	Quantity int
}

// PricedLine is a catalog-resolved food line with its computed subtotal.
type PricedLine struct {
	Item          Item
	Quantity      int
	SubtotalCents int
}

// PriceLines resolves each line against the catalog and computes subtotals
// (quantity × unit price) and the no-tax total. A quantity below one counts
// as one. Lines that match no catalog item produce an [ErrUnknownItem]
// wrapped error; resolved lines and the running total are still returned so
// the caller can decide to proceed with the valid part of the order.
func (c *Catalog) PriceLines(lines []Line) ([]PricedLine, int, error) {
	var (
		priced []PricedLine
		total  int
		errs   []error
	)
	for _, l := range lines {
		qty := l.Quantity
		if qty < 1 {
			qty = 1
		}
		it, ok := c.Lookup(l.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownItem, l.Name))
			continue
		}
		sub := qty * it.PriceCents
		priced = append(priced, PricedLine{Item: it, Quantity: qty, SubtotalCents: sub})
		total += sub
	}
	return priced, total, errors.Join(errs...)
}

// FormatLines renders priced lines the way order records and SMS bodies show
// them: "1 Arancini ($6), 2 Parmigiana ($28)".
func FormatLines(lines []PricedLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprintf("%d %s (%s)", l.Quantity, l.Item.Name, FormatUSD(l.SubtotalCents))
	}
	return strings.Join(parts, ", ")
}

// FormatUSD renders cents as a dollar amount, omitting trailing ".00" the way
// menu prices are spoken.
func FormatUSD(cents int) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// InstructionText renders the menu as the text block embedded in the
// assistant's instructions and the extraction prompt.
func (c *Catalog) InstructionText() string {
	var b strings.Builder
	b.WriteString("Food Menu Items:\n")
	for i, sec := range c.Sections {
		fmt.Fprintf(&b, "%d) %s\n", i+1, sec.Name)
		for _, it := range sec.Items {
			if it.Description != "" {
				fmt.Fprintf(&b, " - %s: %s - %s\n", it.Name, it.Description, FormatUSD(it.PriceCents))
			} else {
				fmt.Fprintf(&b, " - %s - %s\n", it.Name, FormatUSD(it.PriceCents))
			}
		}
	}
	return b.String()
}

// normalize lowercases and collapses whitespace so lookup is insensitive to
// casing and spacing.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
