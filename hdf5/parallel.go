package hdf5

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/h5coro/internal/cache"
	"github.com/robert-malhotra/h5coro/internal/layout"
	"github.com/robert-malhotra/h5coro/internal/metrics"
)

// Request is one read of a batch. Col, StartRow and NumRows are as for
// File.Read.
type Request struct {
	Path     string `yaml:"path" json:"path"`
	Col      int64  `yaml:"col" json:"col"`
	StartRow int64  `yaml:"start" json:"start"`
	NumRows  int64  `yaml:"num" json:"num"`
}

// Result is the outcome of one successful request.
type Result struct {
	Array *Array
	Meta  Meta
}

// BatchResult is the detailed outcome of a batch.
type BatchResult struct {
	// ID identifies the batch in log events.
	ID      string
	Results map[string]*Result
	// Errors holds the failure of each path absent from Results.
	Errors map[string]error
}

// ErrCancelled is the error of requests a Canceller stopped before they
// started.
var ErrCancelled = errors.New("batch cancelled")

// Canceller stops the requests of a batch that have not started yet.
// Requests already running complete. A Canceller may be shared by several
// batches and cancelled from any goroutine.
type Canceller struct {
	once sync.Once
	done chan struct{}
}

// NewCanceller returns a Canceller that has not been cancelled.
func NewCanceller() *Canceller {
	return &Canceller{done: make(chan struct{})}
}

// Cancel poisons every pending request. Calling it again has no effect.
func (c *Canceller) Cancel() {
	c.once.Do(func() { close(c.done) })
}

// Cancelled reports whether Cancel has been called.
func (c *Canceller) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed by Cancel.
func (c *Canceller) Done() <-chan struct{} { return c.done }

// BatchOption configures ReadParallel.
type BatchOption func(*batchOptions)

type batchOptions struct {
	cancel  *Canceller
	workers int
}

// WithCanceller attaches c to the batch.
func WithCanceller(c *Canceller) BatchOption {
	return func(o *batchOptions) { o.cancel = c }
}

// WithBatchWorkers overrides the pool size for one batch.
func WithBatchWorkers(n int) BatchOption {
	return func(o *batchOptions) { o.workers = n }
}

// ReadParallel runs the requests on a worker pool and returns the results
// keyed by path. Failed requests are absent from the map; when a path
// appears twice the later request wins.
func (f *File) ReadParallel(ctx context.Context, reqs []Request, opts ...BatchOption) map[string]*Result {
	return f.ReadParallelDetailed(ctx, reqs, opts...).Results
}

// ReadParallelDetailed is ReadParallel reporting the error of each failed
// path.
func (f *File) ReadParallelDetailed(ctx context.Context, reqs []Request, opts ...BatchOption) *BatchResult {
	o := batchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	br := &BatchResult{
		ID:      uuid.NewString(),
		Results: make(map[string]*Result, len(reqs)),
		Errors:  map[string]error{},
	}
	if len(reqs) == 0 {
		return br
	}
	if err := f.check(); err != nil {
		for _, req := range reqs {
			br.Errors[req.Path] = err
		}
		return br
	}
	start := time.Now()
	log := f.log.With("batch", br.ID)

	workers := o.workers
	if workers <= 0 {
		workers = f.cfg.WorkerThreads
	}
	if workers <= 0 {
		workers = min(len(reqs), runtime.GOMAXPROCS(0))
	}

	f.prefetchBatch(ctx, reqs, workers)

	type outcome struct {
		res *Result
		err error
	}
	outcomes := make([]outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			if o.cancel != nil && o.cancel.Cancelled() {
				outcomes[i].err = ErrCancelled
				return nil
			}
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			arr, meta, err := f.read(ctx, req.Path, req.Col, req.StartRow, req.NumRows)
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].res = &Result{Array: arr, Meta: meta}
			return nil
		})
	}
	_ = g.Wait()

	size := 0
	var firstErr error
	for i, req := range reqs {
		oc := outcomes[i]
		if oc.err != nil {
			delete(br.Results, req.Path)
			br.Errors[req.Path] = oc.err
			if firstErr == nil {
				firstErr = oc.err
			}
			log.Debug("request failed", "path", req.Path, "kind", ErrorKind(oc.err), "err", oc.err)
			continue
		}
		delete(br.Errors, req.Path)
		br.Results[req.Path] = oc.res
		size += oc.res.Array.Size()
	}
	metrics.ObserveRead("parallel", time.Since(start), size, firstErr)
	log.Info("batch done", "requests", len(reqs), "ok", len(br.Results), "failed", len(br.Errors),
		"workers", workers, "elapsed", time.Since(start))
	return br
}

// prefetchBatch plans every request and enqueues one high priority
// prefetch per group of nearby ranges, so requests sharing a chunk or
// touching adjacent ranges are served by a single fetch.
func (f *File) prefetchBatch(ctx context.Context, reqs []Request, workers int) {
	plans := make([][]layout.Extent, len(reqs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			// A request that cannot be planned fails again, with its
			// error reported, when it runs.
			plans[i], _ = f.plan(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	var all []layout.Extent
	for _, p := range plans {
		all = append(all, p...)
	}
	cfg := f.cache.Config()
	for _, e := range coalesce(all, cfg.MinFetch, cfg.L2Capacity/4) {
		f.cache.PrefetchPriority(e.Addr, e.Size, cache.PriorityHigh)
	}
}

// coalesce sorts extents and merges those separated by at most gap bytes
// while the merged range stays within limit bytes.
func coalesce(exts []layout.Extent, gap, limit uint64) []layout.Extent {
	sorted := append([]layout.Extent(nil), exts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	var out []layout.Extent
	for _, e := range sorted {
		if e.Size == 0 {
			continue
		}
		if len(out) == 0 {
			out = append(out, e)
			continue
		}
		last := &out[len(out)-1]
		end := last.Addr + last.Size
		newEnd := max(end, e.Addr+e.Size)
		if e.Addr <= end+gap && newEnd-last.Addr <= limit {
			last.Size = newEnd - last.Addr
			continue
		}
		out = append(out, e)
	}
	return out
}
