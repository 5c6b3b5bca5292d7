package vm

// mm.go implements the bucket allocator of spec §4.3, grounded directly on
// original_source/source/n7mm.c (MM_Init/MM_Malloc/MM_Realloc/MM_Free/
// MM_GarbageCollect/MM_Available). The C version carves a single malloc'd
// byte region into a singly-linked list of MemHeader blocks; this port keeps
// the same linked-list-of-blocks shape and the same scan/coalesce/sweep
// algorithm, but a block's "memory" is a Go payload slot (an `any` holding
// whatever collectable object the caller is tracking, normally a *Table)
// rather than a raw byte range, since Go has no pointer arithmetic to
// subdivide a byte arena safely.

const maxBuckets = 5

// cellType tags what kind of collectable object a cell holds. Only
// typeTable is registered with a destructor in this core (spec §4.3: "only
// the table destructor is registered in the core").
type cellType byte

const (
	typeNone cellType = iota
	typeTable
)

// cell is one block in a bucket's singly-linked free list, mirroring
// MemHeader{size, next, status{bucket,type,marked,used}}.
type cell struct {
	size    int // abstract allocation size (caller-supplied "byte count")
	next    *cell
	bucket  int
	typ     cellType
	marked  bool
	used    bool
	payload any
}

type memBucket struct {
	size        int // configured capacity in abstract bytes
	used        int // bytes currently carved out (for MM_Available bookkeeping)
	firstHeader *cell
}

// Allocator is the process-wide bucket heap. Per spec §5 it is threaded
// through an explicit Vm rather than kept as C-style global statics.
type Allocator struct {
	bucketSize    int
	buckets       []*memBucket
	currentBucket int
	first         *cell // sFirst: first header of the bucket currently being scanned
	current       *cell // sCurrent: cached "next likely free" cursor
	destructors   map[cellType]func(any)
	markAndSweep  func()
	onOOM         func(msg string)
	debugLog      func(string)
}

// NewAllocator creates the allocator with one bucket of bucketBytes size,
// defaulting to 16 MiB when 0 is given (spec §4.1 heapSizeHint).
func NewAllocator(bucketBytes int) *Allocator {
	if bucketBytes <= 0 {
		bucketBytes = 16 * 1024 * 1024
	}
	a := &Allocator{
		bucketSize:  bucketBytes,
		destructors: make(map[cellType]func(any)),
	}
	a.addBucket()
	a.first = a.buckets[0].firstHeader
	return a
}

// SetDestructor registers the destructor invoked on dead cells of the given
// type during sweep (spec §4.4 step 3).
func (a *Allocator) SetDestructor(t cellType, fn func(any)) {
	a.destructors[t] = fn
}

// SetMarkFunction registers the application-provided transitive mark walk
// (spec §4.4 step 2).
func (a *Allocator) SetMarkFunction(fn func()) { a.markAndSweep = fn }

// SetErrorFunction registers the out-of-memory callback (spec §7.4). When
// unset, allocation failure panics with a *VMError, which VM.Run recovers
// and returns as its error; the process is not exited.
func (a *Allocator) SetErrorFunction(fn func(msg string)) { a.onOOM = fn }

func (a *Allocator) addBucket() bool {
	if len(a.buckets) >= maxBuckets {
		return false
	}
	b := &memBucket{size: a.bucketSize}
	b.firstHeader = &cell{size: a.bucketSize}
	a.buckets = append(a.buckets, b)
	return true
}

// findFree scans forward from mh, coalescing consecutive free blocks it
// passes over, until it finds one of size >= requested or runs out of
// blocks. Mirrors n7mm.c's MM_FindFree exactly.
func findFree(mh *cell, size int) *cell {
	for mh != nil && (mh.used || mh.size < size) {
		for mh != nil && mh.used {
			mh = mh.next
		}
		if mh == nil {
			break
		}
		next := mh.next
		for mh.size < size && next != nil && !next.used {
			mh.size += next.size
			next = next.next
		}
		mh.next = next
		if mh.size < size {
			mh = mh.next
		}
	}
	return mh
}

// Malloc allocates a cell of the given abstract size, running the five-step
// procedure of spec §4.3: scan current bucket, round-robin other buckets,
// GC and rescan, grow a new bucket, else report out-of-memory.
func (a *Allocator) Malloc(size int) *cell {
	var mh *cell

	if a.current != nil {
		mh = findFree(a.current, size)
	}
	if mh == nil {
		mh = findFree(a.first, size)
	}
	if mh == nil && len(a.buckets) > 1 {
		for i := 0; i < len(a.buckets); i++ {
			a.currentBucket = (a.currentBucket + 1) % len(a.buckets)
			if mh = findFree(a.buckets[a.currentBucket].firstHeader, size); mh != nil {
				a.first = a.buckets[a.currentBucket].firstHeader
				a.current = nil
				break
			}
		}
	}

	if mh == nil && a.markAndSweep != nil {
		a.GarbageCollect()
		for i := range a.buckets {
			if mh = findFree(a.buckets[i].firstHeader, size); mh != nil {
				a.currentBucket = i
				a.first = a.buckets[i].firstHeader
				a.current = nil
				break
			}
		}
	}

	if mh == nil {
		if a.addBucket() {
			a.currentBucket = len(a.buckets) - 1
			a.first = a.buckets[a.currentBucket].firstHeader
			a.current = nil
			mh = a.first
		}
	}

	if mh == nil {
		a.reportOOM("Out of memory in Malloc")
		return nil
	}

	const headerOverhead = 1
	if mh.size > size && mh.size-size > headerOverhead {
		next := mh.next
		mh.next = &cell{size: mh.size - size, next: next}
		mh.size = size
	}
	mh.typ = typeNone
	mh.used = true
	mh.marked = false

	a.current = mh.next
	for a.current != nil && a.current.used {
		a.current = a.current.next
	}

	return mh
}

func (a *Allocator) reportOOM(msg string) {
	if a.onOOM != nil {
		a.onOOM(msg)
		return
	}
	panic(&VMError{Message: msg})
}

// SetType tags an already-allocated cell's collectable type, called right
// after allocating a table (spec §4.3 SetType).
func (a *Allocator) SetType(c *cell, t cellType) {
	c.typ = t
}

// Realloc allocates a new cell, copies the payload across and frees the
// old one, preserving the type tag across the move. The original C
// MM_Realloc had a documented bug ("SHOULD COPY TYPE FROM OLD MH!!!",
// spec §9 Open Question) where the type tag was lost, making the moved
// object uncollectable; this port fixes that.
func (a *Allocator) Realloc(c *cell, size int) *cell {
	if c == nil {
		return a.Malloc(size)
	}
	if size == 0 {
		a.Free(c)
		return nil
	}
	oldType := c.typ
	oldPayload := c.payload
	nc := a.Malloc(size)
	if nc == nil {
		return nil
	}
	nc.payload = oldPayload
	nc.typ = oldType
	a.Free(c)
	return nc
}

// Free marks a cell unused; coalescing is deferred to the next allocation
// scan or GC sweep (spec §4.3 Free).
func (a *Allocator) Free(c *cell) {
	if c == nil {
		return
	}
	c.used = false
	c.typ = typeNone
	c.payload = nil
}

// GarbageCollect runs the four-phase mark-and-sweep procedure of spec §4.4.
func (a *Allocator) GarbageCollect() {
	for _, b := range a.buckets {
		for c := b.firstHeader; c != nil; c = c.next {
			c.marked = false
		}
	}

	if a.markAndSweep != nil {
		a.markAndSweep()
	}

	swept := 0
	for _, b := range a.buckets {
		for c := b.firstHeader; c != nil; c = c.next {
			if c.typ != typeNone && !c.marked {
				if fn := a.destructors[c.typ]; fn != nil {
					fn(c.payload)
				}
				c.typ = typeNone
				c.used = false
				c.payload = nil
				swept++
			}
		}
	}

	for _, b := range a.buckets {
		c := b.firstHeader
		for c != nil {
			for c != nil && c.used {
				c = c.next
			}
			if c == nil {
				break
			}
			next := c.next
			for next != nil && !next.used {
				c.size += next.size
				next = next.next
			}
			c.next = next
			c = next
		}
	}

	a.currentBucket = 0
	a.first = a.buckets[0].firstHeader
	a.current = nil

	if a.debugLog != nil {
		a.debugLog("garbage collected")
	}
}

// MemInfo mirrors MM_Available's report for one bucket.
type MemInfo struct {
	Available  int
	Blocks     int
	FreeBlocks int
}

// Available reports free space and block counts for bucket index i.
func (a *Allocator) Available(i int) MemInfo {
	var info MemInfo
	for c := a.buckets[i].firstHeader; c != nil; c = c.next {
		if !c.used {
			info.Available += c.size
			info.FreeBlocks++
		}
		info.Blocks++
	}
	return info
}

// BucketCount reports how many buckets have been grown so far.
func (a *Allocator) BucketCount() int { return len(a.buckets) }

// LiveCount walks every bucket and counts cells of the given type that are
// still marked used, for GC verification in tests (spec §8 scenario 5).
func (a *Allocator) LiveCount(t cellType) int {
	count := 0
	for _, b := range a.buckets {
		for c := b.firstHeader; c != nil; c = c.next {
			if c.used && c.typ == t {
				count++
			}
		}
	}
	return count
}
