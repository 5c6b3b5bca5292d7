package vm

// HashTable is the separately-chained, string-or-int keyed map backing a
// Table's entries (spec §4.5). The assembler does not use it: its string
// pool and label table are plain Go maps. String and integer keys live in disjoint namespaces: the string "7" and
// the integer 7 never collide.
//
// Grounded on original_source/source/asm.c's usage of a generic HashTable
// for sStrings and sLabels (HT_Create/HT_Get/...), generalized here to also
// back interpreter Tables.
type HashTable struct {
	buckets []*entry
	count   int
	lock    int
}

type entry struct {
	isString bool
	skey     string
	ikey     int64
	hash     uint64
	data     any
	next     *entry
}

const initialBuckets = 8

// NewHashTable creates an empty table.
func NewHashTable() *HashTable {
	return &HashTable{buckets: make([]*entry, initialBuckets)}
}

// HashString is the standard per-byte mixing function (FNV-1a), precomputed
// where callers want to reuse it across repeated lookups of the same key
// (MLOAD_S/MADD_S hot paths per spec §4.5).
func HashString(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

func hashInt(i int64) uint64 {
	u := uint64(i)
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	return u
}

func (h *HashTable) bucketIndex(hash uint64) int {
	return int(hash % uint64(len(h.buckets)))
}

func (h *HashTable) maybeGrow() {
	if h.count <= len(h.buckets)*2 {
		return
	}
	old := h.buckets
	h.buckets = make([]*entry, len(old)*2)
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			idx := h.bucketIndex(e.hash)
			e.next = h.buckets[idx]
			h.buckets[idx] = e
			e = next
		}
	}
}

// Get looks up a string key, returning (data, true) if present.
func (h *HashTable) Get(key string) (any, bool) {
	return h.GetHashed(key, HashString(key))
}

// GetHashed looks up a string key using a precomputed hash.
func (h *HashTable) GetHashed(key string, hash uint64) (any, bool) {
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.isString && e.hash == hash && e.skey == key {
			return e.data, true
		}
	}
	return nil, false
}

// GetInt looks up an integer key.
func (h *HashTable) GetInt(key int64) (any, bool) {
	hash := hashInt(key)
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if !e.isString && e.hash == hash && e.ikey == key {
			return e.data, true
		}
	}
	return nil, false
}

// GetOrCreateEntry inserts a string key with nil data if absent (spec §4.5)
// and returns a pointer-like handle for the caller to update in place.
func (h *HashTable) GetOrCreateEntry(key string) *any {
	return h.GetOrCreateEntryHashed(key, HashString(key))
}

// GetOrCreateEntryHashed is the pre-hashed variant for MLOAD_S/MADD_S hot paths.
func (h *HashTable) GetOrCreateEntryHashed(key string, hash uint64) *any {
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.isString && e.hash == hash && e.skey == key {
			return &e.data
		}
	}
	e := &entry{isString: true, skey: key, hash: hash, next: h.buckets[idx]}
	h.buckets[idx] = e
	h.count++
	h.maybeGrow()
	return &e.data
}

// GetOrCreateEntryInt inserts an integer key with nil data if absent.
func (h *HashTable) GetOrCreateEntryInt(key int64) *any {
	hash := hashInt(key)
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if !e.isString && e.hash == hash && e.ikey == key {
			return &e.data
		}
	}
	e := &entry{isString: false, ikey: key, hash: hash, next: h.buckets[idx]}
	h.buckets[idx] = e
	h.count++
	h.maybeGrow()
	return &e.data
}

// Set is a convenience wrapper combining GetOrCreateEntry with assignment.
func (h *HashTable) Set(key string, data any) {
	*h.GetOrCreateEntry(key) = data
}

// SetInt is the integer-keyed equivalent of Set.
func (h *HashTable) SetInt(key int64, data any) {
	*h.GetOrCreateEntryInt(key) = data
}

// Exists reports whether a string key is present.
func (h *HashTable) Exists(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// ExistsInt reports whether an integer key is present.
func (h *HashTable) ExistsInt(key int64) bool {
	_, ok := h.GetInt(key)
	return ok
}

// Delete removes a string key, invoking freeFn on its data if present and
// freeFn is non-nil. Rejected (returns false) while the table is locked, per
// spec's lock-counter invariant (§4.5, §4.6).
func (h *HashTable) Delete(key string, freeFn func(any)) bool {
	if h.lock > 0 {
		return false
	}
	hash := HashString(key)
	idx := h.bucketIndex(hash)
	var prev *entry
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.isString && e.hash == hash && e.skey == key {
			if prev == nil {
				h.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			h.count--
			if freeFn != nil {
				freeFn(e.data)
			}
			return true
		}
		prev = e
	}
	return false
}

// DeleteInt is the integer-keyed equivalent of Delete.
func (h *HashTable) DeleteInt(key int64, freeFn func(any)) bool {
	if h.lock > 0 {
		return false
	}
	hash := hashInt(key)
	idx := h.bucketIndex(hash)
	var prev *entry
	for e := h.buckets[idx]; e != nil; e = e.next {
		if !e.isString && e.hash == hash && e.ikey == key {
			if prev == nil {
				h.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			h.count--
			if freeFn != nil {
				freeFn(e.data)
			}
			return true
		}
		prev = e
	}
	return false
}

// EntryCount returns the number of live entries.
func (h *HashTable) EntryCount() int { return h.count }

// HashKey identifies either a string or integer key for iteration/entry snapshots.
type HashKey struct {
	IsString bool
	Str      string
	Int      int64
}

// HashEntry is one (key, data) pair returned by GetEntriesArray.
type HashEntry struct {
	Key  HashKey
	Data any
}

// GetEntriesArray snapshots every entry in internal bucket order, for use by
// iterators (spec §4.6 ILOAD). The snapshot is independent of subsequent
// mutation to the table.
func (h *HashTable) GetEntriesArray() []HashEntry {
	out := make([]HashEntry, 0, h.count)
	for _, head := range h.buckets {
		for e := head; e != nil; e = e.next {
			if e.isString {
				out = append(out, HashEntry{Key: HashKey{IsString: true, Str: e.skey}, Data: e.data})
			} else {
				out = append(out, HashEntry{Key: HashKey{Int: e.ikey}, Data: e.data})
			}
		}
	}
	return out
}

// ApplyKeyFunction calls fn for every key currently stored.
func (h *HashTable) ApplyKeyFunction(fn func(HashKey)) {
	for _, head := range h.buckets {
		for e := head; e != nil; e = e.next {
			if e.isString {
				fn(HashKey{IsString: true, Str: e.skey})
			} else {
				fn(HashKey{Int: e.ikey})
			}
		}
	}
}

// ApplyDataFunction calls fn for every data payload currently stored.
func (h *HashTable) ApplyDataFunction(fn func(any)) {
	for _, head := range h.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.data)
		}
	}
}

// Lock/Unlock implement the lock-counter interlock shared with Table.
func (h *HashTable) Lock()   { h.lock++ }
func (h *HashTable) Unlock() { h.lock-- }
func (h *HashTable) Locked() bool { return h.lock > 0 }
