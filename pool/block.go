// File: pool/block.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pinned byte blocks and the size-classed pool that recycles them.
// A block stays pinned (not recycled) while any handle to it is live.

package pool

import (
	"sync"
	"sync/atomic"
)

// Size classes served from the pool. Larger requests are allocated
// directly and never recycled.
const (
	SmallBlockSize  = 4 << 10
	MediumBlockSize = 64 << 10
	LargeBlockSize  = 1 << 20
)

type block struct {
	data []byte
	pins atomic.Int32
	pool *BlockPool
}

// PinnedBlock is a handle on a pinned, non-relocatable byte block.
// Handles are exclusively owned: hand one off with Move, duplicate one with
// Pin, give one up with Release.
type PinnedBlock struct {
	blk *block
	n   int
}

// NewPinnedBlock wraps p in an unpooled block with a single pin.
func NewPinnedBlock(p []byte) *PinnedBlock {
	b := &block{data: p}
	b.pins.Store(1)
	return &PinnedBlock{blk: b, n: len(p)}
}

// Valid reports whether the handle still pins a block.
func (b *PinnedBlock) Valid() bool { return b != nil && b.blk != nil }

// Bytes returns the first Len bytes of the block.
func (b *PinnedBlock) Bytes() []byte {
	if !b.Valid() {
		return nil
	}
	return b.blk.data[:b.n]
}

// Len returns the number of meaningful bytes.
func (b *PinnedBlock) Len() int {
	if !b.Valid() {
		return 0
	}
	return b.n
}

// Cap returns the block capacity.
func (b *PinnedBlock) Cap() int {
	if !b.Valid() {
		return 0
	}
	return len(b.blk.data)
}

// SetLen sets the number of meaningful bytes. It panics if n exceeds Cap.
func (b *PinnedBlock) SetLen(n int) {
	if !b.Valid() {
		panic("pool: SetLen on invalid block")
	}
	if n < 0 || n > len(b.blk.data) {
		panic("pool: block length out of range")
	}
	b.n = n
}

// Pins returns the current pin count of the underlying block.
func (b *PinnedBlock) Pins() int {
	if !b.Valid() {
		return 0
	}
	return int(b.blk.pins.Load())
}

// Move transfers the pin to a fresh handle and invalidates b.
func (b *PinnedBlock) Move() *PinnedBlock {
	if !b.Valid() {
		panic("pool: move of invalid block")
	}
	out := &PinnedBlock{blk: b.blk, n: b.n}
	b.blk, b.n = nil, 0
	return out
}

// Pin returns a second handle on the same block.
func (b *PinnedBlock) Pin() *PinnedBlock {
	if !b.Valid() {
		panic("pool: pin of invalid block")
	}
	b.blk.pins.Add(1)
	return &PinnedBlock{blk: b.blk, n: b.n}
}

// Release drops the handle's pin. The last release recycles the block.
// Releasing an invalid handle is a no-op.
func (b *PinnedBlock) Release() {
	if !b.Valid() {
		return
	}
	blk := b.blk
	b.blk, b.n = nil, 0
	if blk.pins.Add(-1) == 0 && blk.pool != nil {
		blk.pool.put(blk)
	}
}

// BlockPoolStats aggregates allocation and reuse counters.
type BlockPoolStats struct {
	TotalAlloc int64
	TotalReuse int64
	InUse      int64
}

// BlockPool recycles blocks in three size classes.
type BlockPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool

	totalAlloc atomic.Int64
	totalReuse atomic.Int64
	inUse      atomic.Int64
}

// NewBlockPool creates an empty pool.
func NewBlockPool() *BlockPool {
	return &BlockPool{}
}

var defaultBlockPool = NewBlockPool()

// DefaultBlockPool returns the process-wide pool.
func DefaultBlockPool() *BlockPool { return defaultBlockPool }

func (p *BlockPool) class(size int) (*sync.Pool, int) {
	switch {
	case size <= SmallBlockSize:
		return &p.small, SmallBlockSize
	case size <= MediumBlockSize:
		return &p.medium, MediumBlockSize
	case size <= LargeBlockSize:
		return &p.large, LargeBlockSize
	default:
		return nil, size
	}
}

// Get returns a pinned block with Len == size and Cap >= size.
func (p *BlockPool) Get(size int) *PinnedBlock {
	if size < 0 {
		panic("pool: negative block size")
	}
	sp, classSize := p.class(size)
	var blk *block
	if sp != nil {
		if v := sp.Get(); v != nil {
			blk = v.(*block)
			p.totalReuse.Add(1)
		}
	}
	if blk == nil {
		blk = &block{data: make([]byte, classSize), pool: p}
		p.totalAlloc.Add(1)
	}
	blk.pins.Store(1)
	p.inUse.Add(1)
	return &PinnedBlock{blk: blk, n: size}
}

func (p *BlockPool) put(blk *block) {
	p.inUse.Add(-1)
	if sp, classSize := p.class(len(blk.data)); sp != nil && classSize == len(blk.data) {
		sp.Put(blk)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *BlockPool) Stats() BlockPoolStats {
	return BlockPoolStats{
		TotalAlloc: p.totalAlloc.Load(),
		TotalReuse: p.totalReuse.Load(),
		InUse:      p.inUse.Load(),
	}
}
