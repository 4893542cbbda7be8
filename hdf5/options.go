package hdf5

import (
	"github.com/robert-malhotra/h5coro/internal/config"
	"github.com/robert-malhotra/h5coro/internal/credential"
	"github.com/robert-malhotra/h5coro/internal/source"
)

// Option configures Open.
//
// Options are layered independently of the order they are passed in:
// defaults, then WithConfigFile (file and H5CORO_* environment), then
// WithOptionsMap maps in order, then the remaining options in order.
type Option func(*openOptions)

type openOptions struct {
	cfgFile  *string
	maps     []map[string]any
	sets     []func(*config.Options)
	creds    *credential.Registry
	s3Client source.S3API
}

// resolve builds the effective configuration.
func (o *openOptions) resolve() (config.Options, error) {
	cfg := config.Default()
	if o.cfgFile != nil {
		var err error
		if cfg, err = config.Load(*o.cfgFile); err != nil {
			return config.Options{}, err
		}
	}
	for _, m := range o.maps {
		if err := cfg.Apply(m); err != nil {
			return config.Options{}, err
		}
	}
	for _, set := range o.sets {
		set(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Options{}, err
	}
	return cfg, nil
}

func (o *openOptions) set(fn func(*config.Options)) {
	o.sets = append(o.sets, fn)
}

// WithOptionsMap applies the open options table: l1_slots,
// l2_capacity_bytes, min_fetch_bytes, align_bytes, prefetch_ahead_bytes,
// io_timeout_ms, worker_threads, plus identity, region, endpoint,
// max_retries and requests_per_second. Values may be strings. Unknown
// keys make Open fail.
func WithOptionsMap(m map[string]any) Option {
	return func(o *openOptions) {
		o.maps = append(o.maps, m)
	}
}

// WithConfigFile loads options from a YAML file and the H5CORO_*
// environment. An empty path reads the environment only. If given more
// than once, the last path is used.
//
// log_level and log_format are process-wide and are not applied by Open;
// pass them to InitLogging.
func WithConfigFile(path string) Option {
	return func(o *openOptions) { o.cfgFile = &path }
}

// WithIdentity names the credential identity used for object storage.
func WithIdentity(identity string) Option {
	return func(o *openOptions) {
		o.set(func(c *config.Options) { c.Identity = identity })
	}
}

// WithRegion sets the object storage region.
func WithRegion(region string) Option {
	return func(o *openOptions) {
		o.set(func(c *config.Options) { c.Region = region })
	}
}

// WithEndpoint sets an object storage endpoint other than AWS.
func WithEndpoint(endpoint string) Option {
	return func(o *openOptions) {
		o.set(func(c *config.Options) { c.Endpoint = endpoint })
	}
}

// WithWorkerThreads sizes the ReadParallel pool. Zero means the batch size
// capped at GOMAXPROCS.
func WithWorkerThreads(n int) Option {
	return func(o *openOptions) {
		o.set(func(c *config.Options) { c.WorkerThreads = n })
	}
}

// WithS3Client replaces the object storage client built from the URL.
func WithS3Client(c source.S3API) Option {
	return func(o *openOptions) { o.s3Client = c }
}

func withCredentials(r *credential.Registry) Option {
	return func(o *openOptions) { o.creds = r }
}
