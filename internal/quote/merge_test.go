package quote

import (
	"reflect"
	"testing"
)

func TestMergeEmptyLocalTakesRemoteInOrder(t *testing.T) {
	remote := []Quote{
		{ID: 3, Text: "three", Category: "numbers"},
		{ID: 1, Text: "one", Category: "numbers"},
		{ID: 2, Text: "two", Category: "numbers"},
	}
	merged, result := Merge(nil, remote)
	if !reflect.DeepEqual(merged, remote) {
		t.Fatalf("expected remote list unchanged, got %+v", merged)
	}
	if result.Added != 3 || result.Conflicts != 0 {
		t.Fatalf("expected 3 additions and no conflicts, got %+v", result)
	}
}

func TestMergeEmptyRemoteIsNoOp(t *testing.T) {
	local := []Quote{
		{ID: 1, Text: "keep me", Category: "local"},
		{ID: 2, Text: "me too", Category: "local"},
	}
	merged, result := Merge(local, nil)
	if !reflect.DeepEqual(merged, local) {
		t.Fatalf("expected local list unchanged, got %+v", merged)
	}
	if result.Added != 0 || result.Conflicts != 0 {
		t.Fatalf("expected zero counts, got %+v", result)
	}
}

func TestMergeRemoteWinsAndCountsOneConflict(t *testing.T) {
	local := []Quote{{ID: 7, Text: "local wording", Category: "life"}}
	remote := []Quote{{ID: 7, Text: "server wording", Category: "life"}}
	merged, result := Merge(local, remote)
	if len(merged) != 1 || !Equal(merged[0], remote[0]) {
		t.Fatalf("expected remote record to win, got %+v", merged)
	}
	if result.Conflicts != 1 {
		t.Fatalf("expected exactly one conflict, got %d", result.Conflicts)
	}
	if result.Added != 0 {
		t.Fatalf("expected no additions, got %d", result.Added)
	}
}

func TestMergeIdenticalCollisionCountsNothing(t *testing.T) {
	shared := Quote{ID: 4, Text: "same", Category: "zen"}
	merged, result := Merge([]Quote{shared}, []Quote{shared})
	if len(merged) != 1 || !Equal(merged[0], shared) {
		t.Fatalf("expected single identical record, got %+v", merged)
	}
	if result.Added != 0 || result.Conflicts != 0 {
		t.Fatalf("expected zero counts for identical collision, got %+v", result)
	}
}

func TestMergePreservesLocalOnlyAfterRemote(t *testing.T) {
	local := []Quote{
		{ID: 10, Text: "local a", Category: "mine"},
		{ID: 2, Text: "shared old", Category: "both"},
		{ID: 11, Text: "local b", Category: "mine"},
	}
	remote := []Quote{
		{ID: 2, Text: "shared new", Category: "both"},
		{ID: 5, Text: "remote only", Category: "theirs"},
	}
	merged, result := Merge(local, remote)
	want := []Quote{
		{ID: 2, Text: "shared new", Category: "both"},
		{ID: 5, Text: "remote only", Category: "theirs"},
		{ID: 10, Text: "local a", Category: "mine"},
		{ID: 11, Text: "local b", Category: "mine"},
	}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("unexpected merge order:\n got %+v\nwant %+v", merged, want)
	}
	if result.Added != 1 || result.Conflicts != 1 {
		t.Fatalf("expected 1 addition and 1 conflict, got %+v", result)
	}
}

func TestMergeOutputHasDistinctIDsAndUnionLength(t *testing.T) {
	local := []Quote{
		{ID: 1, Text: "a", Category: "x"},
		{ID: 2, Text: "b", Category: "x"},
		{ID: 3, Text: "c", Category: "x"},
	}
	remote := []Quote{
		{ID: 2, Text: "b2", Category: "x"},
		{ID: 4, Text: "d", Category: "x"},
	}
	merged, _ := Merge(local, remote)
	if len(merged) != 4 {
		t.Fatalf("expected union of 4 distinct ids, got %d records", len(merged))
	}
	seen := map[int64]bool{}
	for _, q := range merged {
		if seen[q.ID] {
			t.Fatalf("duplicate id %d in merged output", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestMergeIsIdempotentAgainstSameRemote(t *testing.T) {
	local := []Quote{
		{ID: 1, Text: "old", Category: "x"},
		{ID: 9, Text: "mine", Category: "x"},
	}
	remote := []Quote{
		{ID: 1, Text: "new", Category: "x"},
		{ID: 2, Text: "added", Category: "x"},
	}
	first, firstResult := Merge(local, remote)
	if firstResult.Added != 1 || firstResult.Conflicts != 1 {
		t.Fatalf("unexpected first merge counts: %+v", firstResult)
	}
	second, secondResult := Merge(first, remote)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-merge changed the list:\n got %+v\nwas %+v", second, first)
	}
	if secondResult.Added != 0 || secondResult.Conflicts != 0 {
		t.Fatalf("expected re-merge to count nothing, got %+v", secondResult)
	}
}

func TestMergeDuplicateRemoteIDLastOccurrenceWins(t *testing.T) {
	remote := []Quote{
		{ID: 1, Text: "first", Category: "x"},
		{ID: 1, Text: "second", Category: "x"},
	}
	merged, _ := Merge(nil, remote)
	if len(merged) != 1 {
		t.Fatalf("expected one record, got %d", len(merged))
	}
	if merged[0].Text != "second" {
		t.Fatalf("expected last remote occurrence to win, got %q", merged[0].Text)
	}
}

func TestMergeDuplicateRemoteIDCountsAgainstLastOccurrence(t *testing.T) {
	// The local copy matches the remote ID's first occurrence, but the last
	// occurrence is the one kept, so the collision is a conflict.
	local := []Quote{{ID: 1, Text: "first", Category: "x"}}
	remote := []Quote{
		{ID: 1, Text: "first", Category: "x"},
		{ID: 1, Text: "second", Category: "x"},
	}
	merged, result := Merge(local, remote)
	if result.Conflicts != 1 || result.Added != 0 {
		t.Fatalf("expected one conflict, got %+v", result)
	}
	if len(merged) != 1 || merged[0].Text != "second" {
		t.Fatalf("expected the last occurrence kept, got %+v", merged)
	}
}

func TestMergeDuplicateLocalIDLastOccurrenceWins(t *testing.T) {
	local := []Quote{
		{ID: 5, Text: "stale", Category: "x"},
		{ID: 5, Text: "rewritten", Category: "x"},
	}
	remote := []Quote{{ID: 1, Text: "other", Category: "x"}}
	merged, result := Merge(local, remote)
	if len(merged) != 2 {
		t.Fatalf("expected two records, got %+v", merged)
	}
	if merged[1].ID != 5 || merged[1].Text != "rewritten" {
		t.Fatalf("expected last local occurrence kept, got %+v", merged[1])
	}
	if result.Added != 1 || result.Conflicts != 0 {
		t.Fatalf("unexpected counts %+v", result)
	}
}

func TestLocalOnly(t *testing.T) {
	local := []Quote{
		{ID: 1, Text: "shared", Category: "x"},
		{ID: 8, Text: "pending a", Category: "x"},
		{ID: 9, Text: "pending b", Category: "x"},
	}
	remote := []Quote{{ID: 1, Text: "shared", Category: "x"}}
	pending := LocalOnly(local, remote)
	if len(pending) != 2 || pending[0].ID != 8 || pending[1].ID != 9 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
