// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"time"

	"github.com/ManuGH/pex/internal/guide"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/ManuGH/pex/internal/normalize"
)

// Recording is the DVR state of one guide entry.
type Recording struct {
	EntryID int64
	State   State
}

// Merge flags the guide entries that have a scheduled recording. A guid
// match wins; otherwise a slot matches the entry with the same normalized
// title and year whose airtime is nearest and within tolerance. Entries
// without a match are absent from the result.
func Merge(entries []guide.Entry, set *Set, tolerance time.Duration) map[int64]Recording {
	out := make(map[int64]Recording)
	if set.Len() == 0 || len(entries) == 0 {
		metrics.RecordScheduled(0, 0)
		return out
	}

	mark := func(id int64, st State) {
		if prev, ok := out[id]; ok && prev.State.rank() >= st.rank() {
			return
		}
		out[id] = Recording{EntryID: id, State: st}
	}

	byTitle := normalize.NewIndex[int]()
	for i, e := range entries {
		if e.GUID != "" {
			if st, ok := set.GUIDs[e.GUID]; ok {
				mark(e.ID, st)
			}
		}
		byTitle.Add(e.Key, i)
	}

	for _, slot := range set.Slots {
		match, ok := byTitle.Lookup(slot.Key)
		if !ok {
			continue
		}
		best, bestDist := -1, tolerance+1
		for _, i := range match.Values {
			begins := entries[i].BeginsAt
			if begins.IsZero() {
				continue
			}
			d := begins.Sub(slot.At).Abs()
			if d <= tolerance && d < bestDist {
				best, bestDist = i, d
			}
		}
		if best >= 0 {
			mark(entries[best].ID, slot.State)
		}
	}

	var pending, active int
	for _, r := range out {
		if r.State == StateActive {
			active++
		} else {
			pending++
		}
	}
	metrics.RecordScheduled(pending, active)
	return out
}
