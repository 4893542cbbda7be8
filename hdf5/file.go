package hdf5

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/cache"
	"github.com/robert-malhotra/h5coro/internal/config"
	"github.com/robert-malhotra/h5coro/internal/logging"
	"github.com/robert-malhotra/h5coro/internal/metrics"
	"github.com/robert-malhotra/h5coro/internal/object"
	"github.com/robert-malhotra/h5coro/internal/source"
	"github.com/robert-malhotra/h5coro/internal/superblock"
)

// Stats are the cumulative cache counters of one File.
type Stats = cache.Stats

// Usage is the current occupancy of the cache tiers.
type Usage = cache.Usage

// File is an open HDF5 file. It is safe for concurrent use.
type File struct {
	id  string
	loc source.Location
	cfg config.Options

	src   source.Source
	cache *cache.Cache
	sb    *superblock.Superblock
	base  int64

	// nodes memoizes resolved objects by canonical path. Entries are
	// never replaced, so a loaded node can be read without locking.
	nodes sync.Map

	log     *logging.Logger
	untrack func()
	closed  atomic.Bool
}

// node is a resolved object.
type node struct {
	path   string
	addr   uint64
	header *object.Header
}

// Open opens the file named by url: a local path, file://path or
// s3://bucket/key.
func Open(ctx context.Context, url string, opts ...Option) (*File, error) {
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}

	loc, err := source.ParseURL(url)
	if err != nil {
		return nil, err
	}
	loc.Identity = cfg.Identity
	loc.Region = cfg.Region
	loc.Endpoint = cfg.Endpoint

	so := cfg.SourceOptions()
	so.Credentials = o.creds
	so.S3Client = o.s3Client
	src, err := source.Open(ctx, loc, so)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(ctx, src, cfg.CacheConfig())
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open %s: %w", loc, err)
	}

	f := &File{
		id:    uuid.NewString(),
		loc:   loc,
		cfg:   cfg,
		src:   src,
		cache: c,
	}
	f.log = logging.For("hdf5").With("file", f.id)
	if err := f.init(ctx); err != nil {
		c.Close()
		src.Close()
		return nil, fmt.Errorf("open %s: %w", loc, err)
	}
	f.untrack = metrics.Track(f.id, func() (cache.Stats, cache.Usage) {
		return c.Stats(), c.Usage()
	})
	f.log.Info("opened", "url", loc.String(), "superblock", f.sb.Version, "size", c.Size())
	return f, nil
}

func (f *File) init(ctx context.Context) error {
	sb, err := superblock.Read(f.cache.ReaderAt(ctx))
	if err != nil {
		return err
	}
	if err := sb.ReaderConfig().Validate(); err != nil {
		return err
	}
	f.sb = sb
	// Addresses are relative to the superblock, wherever the base address
	// field points.
	f.base = sb.FileOffset

	hdr, err := object.Read(f.reader(ctx), sb.RootGroupAddress)
	if err != nil {
		return fmt.Errorf("root group: %w", err)
	}
	f.nodes.Store("/", &node{path: "/", addr: sb.RootGroupAddress, header: hdr})
	return nil
}

// reader returns a metadata reader whose fetches run under ctx.
func (f *File) reader(ctx context.Context) *binary.Reader {
	ra := io.NewSectionReader(f.cache.ReaderAt(ctx), f.base, int64(f.cache.Size())-f.base)
	return binary.NewReader(ra, f.sb.ReaderConfig())
}

// Close stops prefetching and releases the cache and the byte source.
// Closing twice is harmless.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.untrack()
	f.cache.Close()
	err := f.src.Close()
	f.log.Info("closed", "bytes_read", f.cache.Stats().BytesRead)
	return err
}

func (f *File) check() error {
	if f.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ID is the handle's unique id, used in log events and metric labels.
func (f *File) ID() string { return f.id }

// URL returns the location the file was opened from.
func (f *File) URL() string { return f.loc.String() }

// Version returns the superblock version.
func (f *File) Version() int { return int(f.sb.Version) }

// Stat returns the cache counters accumulated since Open.
func (f *File) Stat() Stats { return f.cache.Stats() }

// Usage returns the current cache tier occupancy.
func (f *File) Usage() Usage { return f.cache.Usage() }
