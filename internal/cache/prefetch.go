package cache

import (
	"context"
)

// Prefetch queues [off, off+length) for background loading into L2. It
// never blocks; the request is dropped if the queue is full.
func (c *Cache) Prefetch(off, length uint64) {
	c.PrefetchPriority(off, length, PriorityLow)
}

// PrefetchPriority is Prefetch with an explicit priority. High priority
// requests are served before any queued low priority request.
func (c *Cache) PrefetchPriority(off, length uint64, p Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(prefetchReq{off: off, length: length, priority: p})
}

func (c *Cache) enqueueLocked(req prefetchReq) {
	if c.closed || req.length == 0 || req.off >= c.size {
		return
	}
	if req.off+req.length > c.size {
		req.length = c.size - req.off
	}
	q := c.low
	if req.priority == PriorityHigh {
		q = c.high
	}
	select {
	case q <- req:
		c.stats.prePrefetch.Add(1)
	default:
		c.log.Debug("prefetch queue full, dropping", "off", req.off, "len", req.length)
	}
}

// observeLocked records a demand read and queues read-ahead when the last
// three demand offsets increase with an average stride of at most MinFetch.
func (c *Cache) observeLocked(off, end uint64) {
	c.window = append(c.window, off)
	if len(c.window) > windowSize {
		c.window = c.window[1:]
	}
	c.lastEnd = end

	n := len(c.window)
	if n < 3 {
		return
	}
	a, b, d := c.window[n-3], c.window[n-2], c.window[n-1]
	if !(a < b && b < d) {
		return
	}
	if (d-a)/2 > c.cfg.MinFetch {
		return
	}

	start := c.lastEnd
	if start < c.aheadTo {
		start = c.aheadTo
	}
	stop := c.lastEnd + c.cfg.PrefetchAhead
	if start >= stop || start >= c.size {
		return
	}
	c.aheadTo = stop
	c.enqueueLocked(prefetchReq{off: start, length: stop - start, priority: PriorityLow})
}

// prefetcher drains the queues until Close.
func (c *Cache) prefetcher() {
	defer c.doneWG.Done()
	high, low := c.high, c.low
	for high != nil || low != nil {
		// High priority first when both have work.
		select {
		case req, ok := <-high:
			if !ok {
				high = nil
				continue
			}
			c.load(req)
			continue
		default:
		}
		select {
		case req, ok := <-high:
			if !ok {
				high = nil
				continue
			}
			c.load(req)
		case req, ok := <-low:
			if !ok {
				low = nil
				continue
			}
			c.load(req)
		}
	}
}

// load fetches the parts of req not already cached or in flight into L2.
func (c *Cache) load(req prefetchReq) {
	if c.bgCtx.Err() != nil {
		return
	}
	end := req.off + req.length

	c.mu.Lock()
	defer c.mu.Unlock()

	for pos := req.off; pos < end; {
		if c.closed {
			return
		}
		if s := c.slotAtLocked(pos); s != nil {
			pos = s.end()
			continue
		}
		if f := c.inflightAtLocked(pos); f != nil {
			pos = f.end
			continue
		}
		start, stop := c.planLocked(pos, end)

		ctx, cancel := context.WithTimeout(c.bgCtx, c.cfg.IOTimeout)
		s, err := c.fetchLocked(ctx, start, stop, TierL2)
		cancel()
		if err != nil {
			c.log.Debug("prefetch dropped", "off", start, "len", stop-start, "err", err)
			return
		}
		pos = s.end()
	}
	c.stats.postPrefetch.Add(1)
}
