package indexer

import (
	"fmt"
	"math"
)

// Window is the half-open position range [From, To) processed by one step.
type Window struct {
	From uint64
	To   uint64
}

// Len returns the number of positions in the window.
func (w Window) Len() uint64 {
	if w.To <= w.From {
		return 0
	}
	return w.To - w.From
}

// Contains reports whether pos lies in [From, To).
func (w Window) Contains(pos uint64) bool {
	return pos >= w.From && pos < w.To
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.From, w.To)
}

// nextWindow derives the window following the cursor. An empty sink starts
// at startFrom; otherwise the window starts after the last indexed position
// but never before startFrom. Both ends saturate at MaxUint64.
func nextWindow(last uint64, found bool, startFrom, chunk uint64) Window {
	from := startFrom
	if found {
		next := last + 1
		if last == math.MaxUint64 {
			next = math.MaxUint64
		}
		from = max(startFrom, next)
	}
	to := from + chunk
	if to < from {
		to = math.MaxUint64
	}
	return Window{From: from, To: to}
}
