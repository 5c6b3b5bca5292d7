package vm

import "testing"

func TestHashTableStringAndIntKeysDisjoint(t *testing.T) {
	h := NewHashTable()
	h.Set("7", "string seven")
	h.SetInt(7, "int seven")

	sv, ok := h.Get("7")
	assert(t, ok, "expected string key \"7\" to be present")
	assert(t, sv == "string seven", "got %v, want %v", sv, "string seven")

	iv, ok := h.GetInt(7)
	assert(t, ok, "expected int key 7 to be present")
	assert(t, iv == "int seven", "got %v, want %v", iv, "int seven")

	assert(t, h.EntryCount() == 2, "expected 2 entries, got %d", h.EntryCount())
}

func TestHashTableGetOrCreateReturnsSameSlot(t *testing.T) {
	h := NewHashTable()
	p1 := h.GetOrCreateEntry("x")
	*p1 = 1
	p2 := h.GetOrCreateEntry("x")
	assert(t, p1 == p2, "expected GetOrCreateEntry to return the same slot for an existing key")
	assert(t, *p2 == 1, "expected the slot's value to be visible through the second handle, got %v", *p2)
}

func TestHashTableDeleteAndExists(t *testing.T) {
	h := NewHashTable()
	h.Set("a", 1)
	h.Set("b", 2)

	assert(t, h.Exists("a"), "expected key a to exist before delete")
	ok := h.Delete("a", nil)
	assert(t, ok, "expected Delete to report success for an existing key")
	assert(t, !h.Exists("a"), "expected key a to be gone after delete")
	assert(t, h.Exists("b"), "expected unrelated key b to survive")

	ok = h.Delete("a", nil)
	assert(t, !ok, "expected Delete to report failure for an already-deleted key")
}

func TestHashTableDeleteFreeFnCalledWithData(t *testing.T) {
	h := NewHashTable()
	h.Set("k", "payload")

	var freed any
	ok := h.Delete("k", func(d any) { freed = d })
	assert(t, ok, "expected Delete to succeed")
	assert(t, freed == "payload", "expected freeFn to receive the deleted entry's data, got %v", freed)
}

func TestHashTableDeleteRejectedWhileLocked(t *testing.T) {
	h := NewHashTable()
	h.Set("k", 1)
	h.Lock()
	ok := h.Delete("k", nil)
	assert(t, !ok, "expected Delete to be rejected while the table is locked")
	h.Unlock()
	ok = h.Delete("k", nil)
	assert(t, ok, "expected Delete to succeed once unlocked")
}

func TestHashTableGrowthPreservesEntries(t *testing.T) {
	h := NewHashTable()
	const n = 200
	for i := 0; i < n; i++ {
		h.SetInt(int64(i), i*i)
	}
	assert(t, h.EntryCount() == n, "expected %d entries after growth, got %d", n, h.EntryCount())
	for i := 0; i < n; i++ {
		v, ok := h.GetInt(int64(i))
		assert(t, ok, "expected key %d to survive growth", i)
		assert(t, v == i*i, "key %d: got %v, want %d", i, v, i*i)
	}
}

func TestHashTableEntriesArraySnapshotIsIndependent(t *testing.T) {
	h := NewHashTable()
	h.Set("a", 1)
	h.Set("b", 2)

	snap := h.GetEntriesArray()
	assert(t, len(snap) == 2, "expected 2 entries in the snapshot, got %d", len(snap))

	h.Set("c", 3)
	assert(t, len(snap) == 2, "expected the earlier snapshot to stay at 2 entries after a later insert, got %d", len(snap))
	assert(t, h.EntryCount() == 3, "expected the live table to now report 3 entries, got %d", h.EntryCount())
}

func TestHashTableApplyKeyFunctionVisitsEveryKey(t *testing.T) {
	h := NewHashTable()
	h.Set("a", 1)
	h.Set("b", 2)
	h.SetInt(3, 3)

	seen := map[string]bool{}
	h.ApplyKeyFunction(func(k HashKey) {
		if k.IsString {
			seen[k.Str] = true
		} else {
			seen["#int"] = true
		}
	})
	assert(t, seen["a"] && seen["b"] && seen["#int"], "expected ApplyKeyFunction to visit all three keys, saw %v", seen)
}
