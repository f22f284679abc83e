// Package batch splits the loaded PDF attachments into submission batches.
package batch

import (
	"fmt"

	"github.com/tiss-anexos/intake/internal/models"
)

// Order selects how large and small items are sequenced.
type Order string

const (
	// OrderLargeFirst emits every large singleton before the small groups.
	OrderLargeFirst Order = "large-first"
	// OrderDiscovery walks the input once; a large item closes the pending
	// small group and becomes its own batch.
	OrderDiscovery Order = "discovery"
)

const (
	DefaultMaxSingleSize int64 = 800 * 1024
	DefaultGroupSize           = 3
)

// Options holds the planning thresholds.
type Options struct {
	MaxSingleSize int64
	GroupSize     int
	Order         Order
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MaxSingleSize: DefaultMaxSingleSize,
		GroupSize:     DefaultGroupSize,
		Order:         OrderLargeFirst,
	}
}

func (o Options) normalized() Options {
	if o.MaxSingleSize <= 0 {
		o.MaxSingleSize = DefaultMaxSingleSize
	}
	if o.GroupSize <= 0 {
		o.GroupSize = DefaultGroupSize
	}
	if o.Order == "" {
		o.Order = OrderLargeFirst
	}
	return o
}

// ParseOrder validates an order name.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderLargeFirst:
		return OrderLargeFirst, nil
	case OrderDiscovery:
		return OrderDiscovery, nil
	}
	return "", fmt.Errorf("unknown batch order %q", s)
}

// IsLarge reports whether p must travel alone.
func (o Options) IsLarge(p models.LoadedPDF) bool {
	return p.EstimatedSize() > o.normalized().MaxSingleSize
}

// Plan returns the batch sequence for pdfs. It does not modify its input and
// returns the same plan for the same input. A group never holds two PDFs with
// the same name, since the request keys attachments by name.
func Plan(pdfs []models.LoadedPDF, opts Options) []models.Batch {
	opts = opts.normalized()

	var batches []models.Batch
	add := func(items []models.LoadedPDF, large bool) {
		batches = append(batches, models.Batch{
			Index: len(batches),
			Items: append([]models.LoadedPDF(nil), items...),
			Large: large,
		})
	}

	var pending []models.LoadedPDF
	flush := func() {
		if len(pending) > 0 {
			add(pending, false)
			pending = pending[:0]
		}
	}
	group := func(p models.LoadedPDF) {
		if hasName(pending, p.Name) {
			flush()
		}
		pending = append(pending, p)
		if len(pending) == opts.GroupSize {
			flush()
		}
	}

	switch opts.Order {
	case OrderDiscovery:
		for _, p := range pdfs {
			if opts.IsLarge(p) {
				flush()
				add([]models.LoadedPDF{p}, true)
				continue
			}
			group(p)
		}

	default:
		var small []models.LoadedPDF
		for _, p := range pdfs {
			if opts.IsLarge(p) {
				add([]models.LoadedPDF{p}, true)
			} else {
				small = append(small, p)
			}
		}
		for _, p := range small {
			group(p)
		}
	}
	flush()

	return batches
}

func hasName(items []models.LoadedPDF, name string) bool {
	for _, it := range items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// Stats counts the items of a plan.
type Stats struct {
	Batches    int
	LargeItems int
	SmallItems int
}

// Describe summarizes a plan for logging.
func Describe(batches []models.Batch) Stats {
	s := Stats{Batches: len(batches)}
	for _, b := range batches {
		if b.Large {
			s.LargeItems += len(b.Items)
		} else {
			s.SmallItems += len(b.Items)
		}
	}
	return s
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%d batch(es): %d large PDF(s) sent individually, %d small PDF(s) in groups", s.Batches, s.LargeItems, s.SmallItems)
}
