package service

import "slices"

// DiffRoster compares the current members of a roster with the desired
// ones.  toAdd holds desired ids missing from current, toRemove holds
// current ids no longer desired.  protected (the room owner) never appears
// in either list, and zero ids are ignored.  Both lists are sorted and free
// of duplicates.
func DiffRoster(current, desired []uint64, protected uint64) (toAdd, toRemove []uint64) {
	have := idSet(current, protected)
	want := idSet(desired, protected)
	for id := range want {
		if _, ok := have[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	slices.Sort(toAdd)
	slices.Sort(toRemove)
	return toAdd, toRemove
}

func idSet(ids []uint64, exclude uint64) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 || id == exclude {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// uniqueIDs de-duplicates ids keeping first-seen order and drops zero and
// exclude.
func uniqueIDs(ids []uint64, exclude uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// applyDiff returns current with toRemove dropped and toAdd appended.
func applyDiff(current, toAdd, toRemove []uint64, exclude uint64) []uint64 {
	removed := idSet(toRemove, 0)
	out := make([]uint64, 0, len(current)+len(toAdd))
	for _, id := range current {
		if _, gone := removed[id]; gone {
			continue
		}
		out = append(out, id)
	}
	out = append(out, toAdd...)
	return uniqueIDs(out, exclude)
}

// subtract returns ids without the members of drop, keeping first-seen
// order.
func subtract(ids, drop []uint64) []uint64 {
	gone := idSet(drop, 0)
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := gone[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}
