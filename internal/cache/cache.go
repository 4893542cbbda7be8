// Package cache implements the two-tier range cache that sits between the
// HDF5 decoder and a byte source.
//
// Reads smaller than the minimum fetch size are widened and aligned before
// they reach the source, concurrent readers of the same range share one
// underlying fetch, and a sequential access pattern triggers read-ahead
// into the second tier.
//
// # Tiers
//
// L1 is a fixed number of slots holding the most recently hit ranges. L2 is
// bounded in bytes and holds ranges demoted from L1 and prefetched ranges.
// Both tiers evict least recently used first. Slots never overlap, within a
// tier or across tiers, so every cached byte has exactly one home.
//
// # Prefetch
//
// A single goroutine owns the prefetch queue. It fetches queued ranges and
// publishes them into L2 under the cache mutex. Failed or timed-out
// prefetches are dropped.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/logging"
	"github.com/robert-malhotra/h5coro/internal/source"
)

// Defaults for Config.
const (
	DefaultL1Slots       = 16
	DefaultL2Capacity    = 256 << 20
	DefaultMinFetch      = 64 << 10
	DefaultAlign         = 16 << 10
	DefaultPrefetchAhead = 1 << 20
	DefaultIOTimeout     = 30 * time.Second
	DefaultQueueDepth    = 64
)

// windowSize is the number of demand offsets kept for pattern detection.
const windowSize = 4

// Config sizes the cache.
type Config struct {
	L1Slots       int
	L2Capacity    uint64
	MinFetch      uint64
	Align         uint64
	PrefetchAhead uint64
	// IOTimeout bounds each prefetch fetch.
	IOTimeout time.Duration
	// QueueDepth is the capacity of each prefetch queue.
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.L1Slots <= 0 {
		c.L1Slots = DefaultL1Slots
	}
	if c.L2Capacity == 0 {
		c.L2Capacity = DefaultL2Capacity
	}
	if c.MinFetch == 0 {
		c.MinFetch = DefaultMinFetch
	}
	if c.Align == 0 {
		c.Align = DefaultAlign
	}
	if c.PrefetchAhead == 0 {
		c.PrefetchAhead = DefaultPrefetchAhead
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
}

// Tier identifies the cache layer holding a slot.
type Tier uint8

const (
	TierL1 Tier = iota + 1
	TierL2
)

// slot is one cached range. Its data is never modified after insertion.
type slot struct {
	off  uint64
	data []byte
	tick uint64
	tier Tier
}

func (s *slot) end() uint64 { return s.off + uint64(len(s.data)) }

// fetch is an underlying read in flight.
type fetch struct {
	off, end uint64
	done     bool
	err      error
}

// Priority orders prefetch requests.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityHigh
)

type prefetchReq struct {
	off, length uint64
	priority    Priority
}

// Cache is a range cache over one source. It is safe for concurrent use.
type Cache struct {
	src  source.Source
	cfg  Config
	size uint64
	log  *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	tick     uint64
	l1       *simplelru.LRU[uint64, *slot]
	l2       *simplelru.LRU[uint64, *slot]
	l1Bytes  uint64
	l2Bytes  uint64
	index    []*slot // every slot in both tiers, sorted by offset
	inflight map[*fetch]struct{}
	window   []uint64
	lastEnd  uint64
	// aheadTo is the end of the furthest read-ahead already queued.
	aheadTo uint64
	closed  bool

	high   chan prefetchReq
	low    chan prefetchReq
	stop   context.CancelFunc
	bgCtx  context.Context
	doneWG sync.WaitGroup

	stats counters
}

// New creates a cache over src and starts its prefetcher.
func New(ctx context.Context, src source.Source, cfg Config) (*Cache, error) {
	cfg.applyDefaults()
	size, err := src.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: size: %w", err)
	}
	c := &Cache{
		src:      src,
		cfg:      cfg,
		size:     size,
		log:      logging.For("cache"),
		inflight: make(map[*fetch]struct{}),
		high:     make(chan prefetchReq, cfg.QueueDepth),
		low:      make(chan prefetchReq, cfg.QueueDepth),
	}
	c.cond = sync.NewCond(&c.mu)
	c.l1, err = simplelru.NewLRU[uint64, *slot](cfg.L1Slots, c.demote)
	if err != nil {
		return nil, err
	}
	c.l2, err = simplelru.NewLRU[uint64, *slot](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	c.bgCtx, c.stop = context.WithCancel(context.Background())
	c.doneWG.Add(1)
	go c.prefetcher()
	return c, nil
}

// Size returns the size of the underlying source.
func (c *Cache) Size() uint64 { return c.size }

// Close stops the prefetcher and releases cached data. It does not close
// the source.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.high)
	close(c.low)
	c.mu.Unlock()

	c.stop()
	c.doneWG.Wait()

	c.mu.Lock()
	c.l1 = nil
	c.l2 = nil
	c.index = nil
	c.l1Bytes, c.l2Bytes = 0, 0
	c.mu.Unlock()
	return nil
}

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("cache closed")

// Fetch returns a copy of [off, off+length).
func (c *Cache) Fetch(ctx context.Context, off, length uint64) ([]byte, error) {
	dst := make([]byte, length)
	if err := c.fetchInto(ctx, off, dst, true); err != nil {
		return nil, err
	}
	return dst, nil
}

func (c *Cache) fetchInto(ctx context.Context, off uint64, dst []byte, demand bool) error {
	length := uint64(len(dst))
	if length == 0 {
		return nil
	}
	end := off + length
	if end > c.size || end < off {
		return fmt.Errorf("cache: range [%d,%d) beyond size %d: %w", off, end, c.size, h5err.ErrShortRead)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if demand {
		c.observeLocked(off, end)
	}

	for pos := off; pos < end; {
		if c.closed {
			return ErrClosed
		}
		if s := c.slotAtLocked(pos); s != nil {
			copyOverlap(dst, off, s)
			c.touchLocked(s)
			pos = s.end()
			continue
		}
		if f := c.inflightAtLocked(pos); f != nil {
			for !f.done {
				c.cond.Wait()
			}
			if f.err != nil {
				return f.err
			}
			continue
		}

		start, stop := c.planLocked(pos, end)
		s, err := c.fetchLocked(ctx, start, stop, TierL1)
		if err != nil {
			return err
		}
		c.stats.cacheMiss.Add(1)
		copyOverlap(dst, off, s)
		pos = s.end()
	}
	return nil
}

// fetchLocked reads [start, stop) from the source with c.mu released and
// inserts the result into tier. Waiters on the range are woken either way.
func (c *Cache) fetchLocked(ctx context.Context, start, stop uint64, tier Tier) (*slot, error) {
	f := &fetch{off: start, end: stop}
	c.inflight[f] = struct{}{}
	c.mu.Unlock()

	data, err := c.src.ReadRange(ctx, start, stop-start)

	c.mu.Lock()
	c.stats.bytesRead.Add(uint64(len(data)))
	delete(c.inflight, f)
	f.done = true
	defer c.cond.Broadcast()
	if err != nil {
		f.err = err
		return nil, err
	}
	if c.closed {
		f.err = ErrClosed
		return nil, ErrClosed
	}
	s := &slot{off: start, data: data}
	c.insertLocked(s, tier)
	return s, nil
}

// slotAtLocked returns the slot containing pos, if any.
func (c *Cache) slotAtLocked(pos uint64) *slot {
	i := sort.Search(len(c.index), func(i int) bool { return c.index[i].off > pos })
	if i == 0 {
		return nil
	}
	if s := c.index[i-1]; pos < s.end() {
		return s
	}
	return nil
}

func (c *Cache) inflightAtLocked(pos uint64) *fetch {
	for f := range c.inflight {
		if pos >= f.off && pos < f.end {
			return f
		}
	}
	return nil
}

// planLocked widens a read starting at the gap pos to the minimum fetch
// size, aligns it down, and clips it so it overlaps no slot and no
// in-flight fetch.
func (c *Cache) planLocked(pos, end uint64) (uint64, uint64) {
	start := pos - pos%c.cfg.Align
	// Walk start forward past anything already held or being fetched.
	for start < pos {
		if s := c.slotAtLocked(start); s != nil {
			start = min(s.end(), pos)
			continue
		}
		if f := c.inflightAtLocked(start); f != nil {
			start = min(f.end, pos)
			continue
		}
		break
	}

	stop := max(end, start+c.cfg.MinFetch)
	stop = min(stop, c.size)
	if next := c.nextOccupiedLocked(start); next < stop {
		stop = next
	}
	return start, stop
}

// nextOccupiedLocked returns the lowest slot or in-flight offset above pos,
// or the source size.
func (c *Cache) nextOccupiedLocked(pos uint64) uint64 {
	next := c.size
	i := sort.Search(len(c.index), func(i int) bool { return c.index[i].off > pos })
	if i < len(c.index) {
		next = c.index[i].off
	}
	for f := range c.inflight {
		if f.off > pos && f.off < next {
			next = f.off
		}
	}
	return next
}

func (c *Cache) insertLocked(s *slot, tier Tier) {
	c.tick++
	s.tick = c.tick
	if tier == TierL2 {
		if !c.admitL2Locked(s) {
			return
		}
		c.indexAddLocked(s)
		return
	}
	c.indexAddLocked(s)
	s.tier = TierL1
	c.l1Bytes += uint64(len(s.data))
	c.l1.Add(s.off, s)
}

// admitL2Locked places s in L2, evicting least recently used slots to make
// room. It returns false if s can never fit.
func (c *Cache) admitL2Locked(s *slot) bool {
	n := uint64(len(s.data))
	if n > c.cfg.L2Capacity {
		return false
	}
	for c.l2Bytes+n > c.cfg.L2Capacity {
		_, old, ok := c.l2.RemoveOldest()
		if !ok {
			break
		}
		c.l2Bytes -= uint64(len(old.data))
		c.indexRemoveLocked(old)
		c.stats.l2Replace.Add(1)
	}
	s.tier = TierL2
	c.l2Bytes += n
	c.l2.Add(s.off, s)
	return true
}

// demote is the L1 eviction callback: the displaced slot moves to L2 when
// it fits and is dropped otherwise.
func (c *Cache) demote(_ uint64, s *slot) {
	c.l1Bytes -= uint64(len(s.data))
	c.stats.l1Replace.Add(1)
	if !c.admitL2Locked(s) {
		c.indexRemoveLocked(s)
	}
}

// touchLocked bumps a slot used by a hit and promotes it to L1 if it was
// in L2.
func (c *Cache) touchLocked(s *slot) {
	c.tick++
	s.tick = c.tick
	switch s.tier {
	case TierL1:
		c.l1.Get(s.off)
	case TierL2:
		if cur, ok := c.l2.Peek(s.off); !ok || cur != s {
			return
		}
		c.l2.Remove(s.off)
		c.l2Bytes -= uint64(len(s.data))
		s.tier = TierL1
		c.l1Bytes += uint64(len(s.data))
		c.l1.Add(s.off, s)
	}
}

func (c *Cache) indexAddLocked(s *slot) {
	i := sort.Search(len(c.index), func(i int) bool { return c.index[i].off >= s.off })
	c.index = append(c.index, nil)
	copy(c.index[i+1:], c.index[i:])
	c.index[i] = s
}

func (c *Cache) indexRemoveLocked(s *slot) {
	i := sort.Search(len(c.index), func(i int) bool { return c.index[i].off >= s.off })
	if i < len(c.index) && c.index[i] == s {
		c.index = append(c.index[:i], c.index[i+1:]...)
	}
}

// copyOverlap copies the part of s that overlaps dst, which starts at off.
func copyOverlap(dst []byte, off uint64, s *slot) {
	end := off + uint64(len(dst))
	lo := max(off, s.off)
	hi := min(end, s.end())
	if lo >= hi {
		return
	}
	copy(dst[lo-off:hi-off], s.data[lo-s.off:hi-s.off])
}

// ReaderAt returns an io.ReaderAt that reads through the cache with ctx.
// Reads past the end of the source return io.EOF with the bytes available.
func (c *Cache) ReaderAt(ctx context.Context) io.ReaderAt {
	return readerAt{c: c, ctx: ctx}
}

type readerAt struct {
	c   *Cache
	ctx context.Context
}

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cache: negative offset %d", off)
	}
	if uint64(off) >= r.c.size {
		return 0, io.EOF
	}
	n := min(uint64(len(p)), r.c.size-uint64(off))
	if err := r.c.fetchInto(r.ctx, uint64(off), p[:n], true); err != nil {
		return 0, err
	}
	if n < uint64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Usage is a snapshot of tier occupancy.
type Usage struct {
	L1Slots int
	L1Bytes uint64
	L2Slots int
	L2Bytes uint64
}

// Usage returns the current tier occupancy.
func (c *Cache) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Usage{}
	}
	return Usage{
		L1Slots: c.l1.Len(),
		L1Bytes: c.l1Bytes,
		L2Slots: c.l2.Len(),
		L2Bytes: c.l2Bytes,
	}
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Stats is a snapshot of the cache counters.
type Stats struct {
	PrePrefetchRequest  uint64 `yaml:"pre_prefetch_request" json:"pre_prefetch_request"`
	PostPrefetchRequest uint64 `yaml:"post_prefetch_request" json:"post_prefetch_request"`
	CacheMiss           uint64 `yaml:"cache_miss" json:"cache_miss"`
	L1CacheReplace      uint64 `yaml:"l1_cache_replace" json:"l1_cache_replace"`
	L2CacheReplace      uint64 `yaml:"l2_cache_replace" json:"l2_cache_replace"`
	BytesRead           uint64 `yaml:"bytes_read" json:"bytes_read"`
}

type counters struct {
	prePrefetch  atomic.Uint64
	postPrefetch atomic.Uint64
	cacheMiss    atomic.Uint64
	l1Replace    atomic.Uint64
	l2Replace    atomic.Uint64
	bytesRead    atomic.Uint64
}

// Stats returns a snapshot of the counters. Counters only grow.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PrePrefetchRequest:  c.stats.prePrefetch.Load(),
		PostPrefetchRequest: c.stats.postPrefetch.Load(),
		CacheMiss:           c.stats.cacheMiss.Load(),
		L1CacheReplace:      c.stats.l1Replace.Load(),
		L2CacheReplace:      c.stats.l2Replace.Load(),
		BytesRead:           c.stats.bytesRead.Load(),
	}
}
