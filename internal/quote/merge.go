package quote

// MergeResult reports what a merge changed.
type MergeResult struct {
	Added     int `json:"added"`
	Conflicts int `json:"conflicts"`
}

// Merge reconciles a local quote list with a remote one. The remote side
// always wins on an ID collision; a collision whose records differ in any
// field counts as one conflict, a remote ID absent locally counts as one
// addition. Remote-derived records come first in remote order, then every
// local record whose ID the remote never mentioned, in its original
// relative order. An empty remote list is treated as "server had nothing
// to say" and leaves local untouched.
//
// If one input carries the same ID twice, the last occurrence is the one
// that is compared and kept, at the position the ID first appeared; the
// output never repeats an ID.
func Merge(local, remote []Quote) ([]Quote, MergeResult) {
	if len(remote) == 0 {
		return append([]Quote(nil), local...), MergeResult{}
	}
	local = dedupeLastWins(local)
	remote = dedupeLastWins(remote)

	localByID := make(map[int64]Quote, len(local))
	for _, q := range local {
		localByID[q.ID] = q
	}
	remoteIDs := make(map[int64]struct{}, len(remote))

	merged := make([]Quote, 0, len(local)+len(remote))
	var result MergeResult
	for _, rq := range remote {
		remoteIDs[rq.ID] = struct{}{}
		if lq, ok := localByID[rq.ID]; ok {
			if !Equal(lq, rq) {
				result.Conflicts++
			}
		} else {
			result.Added++
		}
		merged = append(merged, rq)
	}

	for _, lq := range local {
		if _, taken := remoteIDs[lq.ID]; taken {
			continue
		}
		merged = append(merged, lq)
	}
	return merged, result
}

// dedupeLastWins collapses repeated IDs to their last occurrence, with
// each ID keeping the position it first appeared at.
func dedupeLastWins(quotes []Quote) []Quote {
	index := make(map[int64]int, len(quotes))
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if at, ok := index[q.ID]; ok {
			out[at] = q
			continue
		}
		index[q.ID] = len(out)
		out = append(out, q)
	}
	return out
}

// LocalOnly returns the quotes from local whose IDs do not appear in
// remote, in their original order. These are the records a sync agent
// still owes the server.
func LocalOnly(local, remote []Quote) []Quote {
	remoteIDs := make(map[int64]struct{}, len(remote))
	for _, q := range remote {
		remoteIDs[q.ID] = struct{}{}
	}
	out := make([]Quote, 0)
	for _, q := range local {
		if _, ok := remoteIDs[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
