// Package pair reconciles the header and footer offsets found by the dig
// pass into carve extents, independently per rule, under the rule's
// pairing policy.
package pair

import (
	"github.com/grailbio/carve/dig"
	"github.com/grailbio/carve/rules"
)

// Extent is one planned carve: a [Start, Stop] byte range in the input's
// logical address space.
type Extent struct {
	// RuleIndex identifies the rule within its set.
	RuleIndex int
	Rule      *rules.Rule
	Start     int64
	Stop      int64
	// Truncated marks a carve that ran to the rule's MaxLength instead of
	// a discovered footer ("chopped" in the audit log).
	Truncated bool
}

// Length returns the extent's byte count.
func (e Extent) Length() int64 { return e.Stop - e.Start + 1 }

// Options configure pairing.
type Options struct {
	// Embedded turns on balanced header/footer matching, so that files of
	// a type nested inside a larger file of the same type do not steal
	// the outer file's footer.
	Embedded bool
	// MissingFooters carves MaxLength bytes for a Forward-mode header
	// whose footer is absent or out of range, instead of skipping it.
	MissingFooters bool
	// AlignedOnly drops headers that do not start on an
	// AlignedBlockSize boundary.
	AlignedOnly      bool
	AlignedBlockSize int64
	// ImageSize is the input's logical size; extents are clipped to it.
	ImageSize int64
}

// Extents pairs every rule's offsets and returns the combined carve list,
// ordered by rule and then by header position.
func Extents(rs *rules.Set, store *dig.Store, opts Options) []Extent {
	var out []Extent
	for i, rule := range rs.Rules() {
		out = append(out, ruleExtents(i, rule, store.Rule(i), opts)...)
	}
	return out
}

func ruleExtents(index int, rule *rules.Rule, off *dig.Offsets, opts Options) []Extent {
	var out []Extent
	// Index of the first footer that can still be relevant.  Headers are
	// sorted, so footers skipped for one header stay skipped for the next.
	prevStop := 0
	for hi := range off.Headers {
		start := off.Headers[hi].Pos
		if opts.AlignedOnly && opts.AlignedBlockSize > 0 && start%opts.AlignedBlockSize != 0 {
			continue
		}
		stop, truncated, ok := pairOne(rule, off, hi, &prevStop, opts)
		if !ok || stop-start+1 < rule.MinLength {
			continue
		}
		if stop > opts.ImageSize-1 {
			stop = opts.ImageSize - 1
		}
		out = append(out, Extent{
			RuleIndex: index,
			Rule:      rule,
			Start:     start,
			Stop:      stop,
			Truncated: truncated,
		})
	}
	return out
}

// pairOne finds the stop offset for the header at off.Headers[hi].
func pairOne(rule *rules.Rule, off *dig.Offsets, hi int, prevStop *int, opts Options) (stop int64, truncated, ok bool) {
	start := off.Headers[hi].Pos
	maxLen := rule.MaxLength
	if !rule.HasFooter() {
		// Without a footer all we can do is carve the maximum size; the
		// real length is unknown, so the carve is always truncated.
		return start + maxLen - 1, true, true
	}
	if rule.Pairing == rules.Reverse {
		return pairReverse(rule, off, start, prevStop)
	}
	return pairForward(rule, off, hi, prevStop, opts)
}

// pairForward implements Forward and ForwardNext: stop at the first
// footer past the header.  Forward includes the footer bytes and, without
// a footer in range, carves only when MissingFooters is set.  ForwardNext
// excludes the footer bytes and always falls back to a truncated carve.
func pairForward(rule *rules.Rule, off *dig.Offsets, hi int, prevStop *int, opts Options) (stop int64, truncated, ok bool) {
	start := off.Headers[hi].Pos
	maxLen := rule.MaxLength
	first := *prevStop
	if opts.Embedded {
		var balanced bool
		if first, balanced = balancedFooter(off, hi, prevStop); !balanced {
			// The nesting count never returned to zero; no viable footer.
			return 0, false, false
		}
	}
	for j := first; j < len(off.Footers); j++ {
		f := off.Footers[j]
		if f.Pos <= start {
			if !opts.Embedded {
				*prevStop = j
			}
			continue
		}
		if rule.Pairing == rules.Forward {
			stop = f.Pos + int64(f.Len) - 1
		} else {
			stop = f.Pos - 1
		}
		if stop-start+1 > maxLen {
			if rule.Pairing == rules.Forward && !opts.MissingFooters {
				return 0, false, false
			}
			stop = start + maxLen - 1
			truncated = true
		}
		return stop, truncated, true
	}
	// No footer past the header at all.
	if rule.Pairing == rules.ForwardNext || opts.MissingFooters {
		return start + maxLen - 1, true, true
	}
	return 0, false, false
}

// pairReverse stops at the farthest footer within MaxLength of the
// header, footer bytes included.  The per-match footer length is used
// uniformly.
func pairReverse(rule *rules.Rule, off *dig.Offsets, start int64, prevStop *int) (stop int64, truncated, ok bool) {
	for j := *prevStop; j < len(off.Footers); j++ {
		f := off.Footers[j]
		if f.Pos <= start {
			*prevStop = j
			continue
		}
		if f.Pos-start > rule.MaxLength {
			break
		}
		stop = f.Pos + int64(f.Len) - 1
	}
	if stop == 0 {
		return 0, false, false
	}
	return stop, false, true
}

// balancedFooter walks the interleaved headers and footers after
// off.Headers[hi], counting nesting depth: headers open, footers close.
// It returns the index of the footer at which the depth returns to zero.
// ok is false when the depth never does.
func balancedFooter(off *dig.Offsets, hi int, prevStop *int) (int, bool) {
	headers, footers := off.Headers, off.Footers
	start := off.Headers[hi].Pos
	// Footers at or before the header can never close it.
	for *prevStop < len(footers) && footers[*prevStop].Pos <= start {
		*prevStop++
	}
	depth := 1
	h := hi + 1
	for f := *prevStop; f < len(footers); {
		if h < len(headers) && headers[h].Pos < footers[f].Pos {
			if headers[h].Pos > start {
				depth++
			}
			h++
			continue
		}
		depth--
		if depth == 0 {
			return f, true
		}
		f++
	}
	return 0, false
}
