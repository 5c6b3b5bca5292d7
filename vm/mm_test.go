package vm

import "testing"

func TestAllocatorMallocSetTypeAndFree(t *testing.T) {
	a := NewAllocator(1024)
	c := a.Malloc(64)
	assert(t, c != nil, "expected Malloc to succeed")

	a.SetType(c, typeTable)
	assert(t, a.LiveCount(typeTable) == 1, "expected 1 live table cell, got %d", a.LiveCount(typeTable))

	a.Free(c)
	assert(t, a.LiveCount(typeTable) == 0, "expected Free to clear the type tag immediately, got %d", a.LiveCount(typeTable))
}

func TestAllocatorAvailableReportsFreeSpace(t *testing.T) {
	a := NewAllocator(128)
	info := a.Available(0)
	assert(t, info.Blocks == 1, "expected a single free block initially, got %d", info.Blocks)
	assert(t, info.Available == 128, "expected all 128 bytes free initially, got %d", info.Available)

	a.Malloc(32)
	info = a.Available(0)
	assert(t, info.Available == 128-32, "expected %d bytes free after one 32-byte allocation, got %d", 128-32, info.Available)
}

func TestAllocatorGrowsBucketsOnExhaustion(t *testing.T) {
	a := NewAllocator(64)
	assert(t, a.BucketCount() == 1, "expected 1 initial bucket, got %d", a.BucketCount())

	for i := 0; i < 10; i++ {
		assert(t, a.Malloc(32) != nil, "expected Malloc(32) #%d to succeed", i)
	}
	assert(t, a.BucketCount() > 1, "expected the allocator to grow past 1 bucket under pressure, got %d", a.BucketCount())
}

func TestAllocatorOutOfMemoryCallback(t *testing.T) {
	a := NewAllocator(64)
	var oomMsg string
	a.SetErrorFunction(func(msg string) { oomMsg = msg })

	// Each 64-byte bucket holds exactly two 32-byte cells; fill every bucket
	// up to the cap, then ask for one more with no mark function registered
	// to free anything via GC.
	for i := 0; i < maxBuckets*2; i++ {
		assert(t, a.Malloc(32) != nil, "expected Malloc(32) #%d to succeed while buckets remain", i)
	}
	assert(t, a.BucketCount() == maxBuckets, "expected the allocator to have grown to the bucket cap, got %d", a.BucketCount())

	c := a.Malloc(32)
	assert(t, c == nil, "expected Malloc to fail once every bucket is full and growth is capped")
	assert(t, oomMsg != "", "expected the OOM callback to fire with a message")
}

func TestAllocatorGarbageCollectSweepsUnmarkedAndPreservesMarked(t *testing.T) {
	a := NewAllocator(1024)

	live := a.Malloc(16)
	a.SetType(live, typeTable)
	live.payload = "kept"

	dead := a.Malloc(16)
	a.SetType(dead, typeTable)
	dead.payload = "dropped"

	var destroyed []any
	a.SetDestructor(typeTable, func(p any) { destroyed = append(destroyed, p) })
	a.SetMarkFunction(func() { live.marked = true })

	a.GarbageCollect()

	assert(t, a.LiveCount(typeTable) == 1, "expected 1 live table cell after GC, got %d", a.LiveCount(typeTable))
	assert(t, len(destroyed) == 1 && destroyed[0] == "dropped",
		"expected the destructor to run exactly once, on the unmarked cell's payload, got %v", destroyed)
}

func TestAllocatorGarbageCollectWithNoMarkFunctionSweepsEverything(t *testing.T) {
	a := NewAllocator(1024)
	c := a.Malloc(16)
	a.SetType(c, typeTable)

	a.GarbageCollect()
	assert(t, a.LiveCount(typeTable) == 0,
		"expected GC with no mark function registered to sweep every typed cell, got live count %d", a.LiveCount(typeTable))
}

// Realloc previously lost a cell's type tag on the move (spec §9 Open
// Question, "SHOULD COPY TYPE FROM OLD MH!!!" in n7mm.c); this exercises the
// fix.
func TestAllocatorReallocPreservesTypeTag(t *testing.T) {
	a := NewAllocator(1024)
	c := a.Malloc(16)
	a.SetType(c, typeTable)
	c.payload = "original"

	nc := a.Realloc(c, 256)
	assert(t, nc != nil, "expected Realloc to succeed")
	assert(t, nc.typ == typeTable, "expected Realloc to preserve the type tag, got %v", nc.typ)
	assert(t, nc.payload == "original", "expected Realloc to preserve the payload, got %v", nc.payload)
	assert(t, a.LiveCount(typeTable) == 1, "expected exactly 1 live table cell after realloc, got %d", a.LiveCount(typeTable))
}

func TestAllocatorReallocToZeroFrees(t *testing.T) {
	a := NewAllocator(1024)
	c := a.Malloc(16)
	a.SetType(c, typeTable)

	nc := a.Realloc(c, 0)
	assert(t, nc == nil, "expected Realloc to size 0 to return nil")
	assert(t, a.LiveCount(typeTable) == 0, "expected the cell to be freed, got live count %d", a.LiveCount(typeTable))
}

func TestAllocatorReallocFromNilActsLikeMalloc(t *testing.T) {
	a := NewAllocator(1024)
	c := a.Realloc(nil, 32)
	assert(t, c != nil, "expected Realloc(nil, n) to behave like Malloc")
}
