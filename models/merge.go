package models

// MergeOrdered merges incoming into prev without reordering prev. Records
// present in both take incoming's values in prev's position; records only
// in incoming are appended in incoming's order. Nothing is ever dropped.
func MergeOrdered(prev, incoming []ModelRecord) []ModelRecord {
	byID := make(map[ModelID]ModelRecord, len(incoming))
	for _, m := range incoming {
		byID[m.ID] = m
	}

	out := make([]ModelRecord, 0, len(prev)+len(incoming))
	seen := make(map[ModelID]struct{}, len(prev)+len(incoming))
	for _, p := range prev {
		if up, ok := byID[p.ID]; ok {
			p = up
		}
		out = append(out, p)
		seen[p.ID] = struct{}{}
	}
	for _, m := range incoming {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		out = append(out, byID[m.ID])
		seen[m.ID] = struct{}{}
	}
	return out
}

// PromoteFront upserts rec and moves it to the head of the list. An
// existing record with the same id is overlaid with rec's non-zero fields.
func PromoteFront(prev []ModelRecord, rec ModelRecord) []ModelRecord {
	out := make([]ModelRecord, 1, len(prev)+1)
	out[0] = rec
	for _, p := range prev {
		if p.ID == rec.ID {
			out[0] = p.Overlay(rec)
			continue
		}
		out = append(out, p)
	}
	return out
}

// DedupLast keeps one record per id, the last one seen, at the position
// where the id first appeared.
func DedupLast(in []ModelRecord) []ModelRecord {
	idx := make(map[ModelID]int, len(in))
	out := make([]ModelRecord, 0, len(in))
	for _, m := range in {
		if i, ok := idx[m.ID]; ok {
			out[i] = m
			continue
		}
		idx[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
