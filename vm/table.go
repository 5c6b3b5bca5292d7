package vm

// Table is a hash map keyed by either a string or a non-negative integer,
// the only GC-managed object in the data model (spec §3). Every Table is
// allocated through the bucket allocator and registered with it as
// type-tagged "collectable" (see mm.go/gc.go).
type Table struct {
	entries *HashTable
	lock    int

	// cell is the bucket-allocator cell backing this table, set by
	// Allocator.NewTable. It lets the GC mark this table in O(1) instead of
	// searching every bucket for the matching payload.
	cell *cell
}

// NewTable creates an empty, allocator-registered table. capacityHint
// pre-sizes the backing hash table (used by CALL_R's inline cache, spec
// §4.6). This is the sole constructor collectable program tables go
// through; it is how spec §3's "every table is registered with the
// allocator as type-tagged collectable" is satisfied.
func (a *Allocator) NewTable(capacityHint int) *Table {
	t := &Table{entries: NewHashTable()}
	c := a.Malloc(tableCellSize(capacityHint))
	c.payload = t
	a.SetType(c, typeTable)
	t.cell = c
	return t
}

// tableCellSize gives the bucket allocator a size proportional to the
// capacity hint so that larger tables "weigh" more in the heap accounting
// exercised by spec §8 scenario 5.
func tableCellSize(capacityHint int) int {
	if capacityHint < 1 {
		capacityHint = 1
	}
	return capacityHint * 8
}

// Len returns the number of entries currently stored.
func (t *Table) Len() int { return t.entries.EntryCount() }

// Entries store *Value rather than Value so that the memory cursor (spec
// §4.6 M) can hold a genuine address into a table's storage: once MLOAD_*
// navigates into a slot, writes through MSET_R-via-cursor and reads via
// MGET_R observe and mutate the same backing Value, matching the original
// VM's raw pointer semantics.

// Slot returns the stable *Value backing a string key, creating it
// (initialized Unset) if absent.
func (t *Table) Slot(key string) *Value {
	h := t.entries.GetOrCreateEntry(key)
	if *h == nil {
		*h = new(Value)
	}
	return (*h).(*Value)
}

// SlotHashed is the pre-hashed variant of Slot (MLOAD_S hot path).
func (t *Table) SlotHashed(key string, hash uint64) *Value {
	h := t.entries.GetOrCreateEntryHashed(key, hash)
	if *h == nil {
		*h = new(Value)
	}
	return (*h).(*Value)
}

// SlotInt is the integer-keyed equivalent of Slot.
func (t *Table) SlotInt(key int64) *Value {
	h := t.entries.GetOrCreateEntryInt(key)
	if *h == nil {
		*h = new(Value)
	}
	return (*h).(*Value)
}

// Get looks up a string-keyed entry.
func (t *Table) Get(key string) (Value, bool) {
	v, ok := t.entries.Get(key)
	if !ok {
		return Unset(), false
	}
	return *(v.(*Value)), true
}

// GetHashed is the pre-hashed variant of Get (MLOAD_S hot path).
func (t *Table) GetHashed(key string, hash uint64) (Value, bool) {
	v, ok := t.entries.GetHashed(key, hash)
	if !ok {
		return Unset(), false
	}
	return *(v.(*Value)), true
}

// GetInt looks up an integer-keyed entry.
func (t *Table) GetInt(key int64) (Value, bool) {
	v, ok := t.entries.GetInt(key)
	if !ok {
		return Unset(), false
	}
	return *(v.(*Value)), true
}

// Set writes (creating if absent) a string-keyed entry.
func (t *Table) Set(key string, v Value) {
	*t.Slot(key) = v
}

// SetHashed is the pre-hashed variant of Set.
func (t *Table) SetHashed(key string, hash uint64, v Value) {
	*t.SlotHashed(key, hash) = v
}

// SetInt writes (creating if absent) an integer-keyed entry.
func (t *Table) SetInt(key int64, v Value) {
	*t.SlotInt(key) = v
}

// Ensure makes sure a string key exists, creating it with Unset() if absent,
// without returning/changing its current value (MADD_S, spec §4.6).
func (t *Table) Ensure(key string) {
	t.Slot(key)
}

// EnsureInt is the integer-keyed equivalent of Ensure.
func (t *Table) EnsureInt(key int64) {
	t.SlotInt(key)
}

// Delete removes a string-keyed entry. Rejected while the table is locked
// (spec §4.6 "Table is locked").
func (t *Table) Delete(key string) bool {
	return t.entries.Delete(key, nil)
}

// DeleteInt is the integer-keyed equivalent of Delete.
func (t *Table) DeleteInt(key int64) bool {
	return t.entries.DeleteInt(key, nil)
}

// Lock/Unlock track the iterator lock counter (spec §4.6, §5).
func (t *Table) Lock()      { t.lock++; t.entries.Lock() }
func (t *Table) Unlock()    { t.lock--; t.entries.Unlock() }
func (t *Table) Locked() bool { return t.lock > 0 }

// Entries snapshots the table's contents in the backing hash table's bucket
// order (which is not insertion order), for ILOAD and
// for external callers (syscall.go) that only need read-only values rather
// than the underlying addressable slots.
func (t *Table) Entries() []HashEntry {
	raw := t.entries.GetEntriesArray()
	out := make([]HashEntry, len(raw))
	for i, e := range raw {
		out[i] = HashEntry{Key: e.Key, Data: *(e.Data.(*Value))}
	}
	return out
}

// Children returns every Table referenced directly by a value in this
// table, used by the GC's transitive mark walk (gc.go).
func (t *Table) Children() []*Table {
	var out []*Table
	t.entries.ApplyDataFunction(func(d any) {
		v := d.(*Value)
		if v.Kind == KindTable && v.Tbl != nil {
			out = append(out, v.Tbl)
		}
	})
	return out
}
