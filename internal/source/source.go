// Package source provides range reads over local files and object storage.
//
// A [Source] returns exactly the bytes asked for or a typed error from
// internal/h5err. [Open] selects a driver from the [Location] and wraps it in
// the retry policy: transient failures are retried with exponential backoff,
// an authentication failure triggers one credential refresh, and every
// underlying attempt is bounded by the I/O timeout.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robert-malhotra/h5coro/internal/credential"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Driver names.
const (
	DriverFile = "file"
	DriverS3   = "s3"
)

// Defaults for Options.
const (
	DefaultIOTimeout   = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffCap  = 2 * time.Second
)

// Source is a random-access byte source. Implementations are safe for
// concurrent use.
type Source interface {
	// ReadRange returns exactly length bytes starting at off. If the source
	// ends first it returns the bytes available and an ErrShortRead error.
	ReadRange(ctx context.Context, off, length uint64) ([]byte, error)
	// Size returns the total size of the source in bytes.
	Size(ctx context.Context) (uint64, error)
	Close() error
}

// Location names a resource.
type Location struct {
	Identity string
	Driver   string
	// Resource is the bucket for object storage and empty for local files.
	Resource string
	Path     string
	Region   string
	Endpoint string
}

func (l Location) String() string {
	if l.Driver == DriverFile {
		return "file://" + l.Path
	}
	return l.Driver + "://" + l.Resource + "/" + l.Path
}

// ParseURL builds a Location from file://path, s3://bucket/key, or a bare
// local path. Unknown schemes are kept as the driver name so that Open
// reports ErrUnsupportedDriver.
func ParseURL(raw string) (Location, error) {
	if !strings.Contains(raw, "://") {
		return Location{Driver: DriverFile, Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case DriverFile:
		path := u.Path
		if u.Host != "" {
			// file://relative/path
			path = u.Host + u.Path
		}
		return Location{Driver: DriverFile, Path: path}, nil
	default:
		if u.Host == "" {
			return Location{}, fmt.Errorf("parse %q: missing bucket", raw)
		}
		return Location{
			Driver:   u.Scheme,
			Resource: u.Host,
			Path:     strings.TrimPrefix(u.Path, "/"),
		}, nil
	}
}

// Options tunes the retry policy and drivers.
type Options struct {
	IOTimeout   time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// RequestsPerSecond limits underlying requests. Zero means unlimited.
	RequestsPerSecond float64
	// Credentials is consulted by object storage drivers. Nil means the
	// process-wide registry.
	Credentials *credential.Registry
	// S3Client replaces the client built from the Location.
	S3Client S3API
}

func (o *Options) applyDefaults() {
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.Credentials == nil {
		o.Credentials = credential.Default()
	}
}

// Open opens the resource named by loc.
func Open(ctx context.Context, loc Location, opts Options) (Source, error) {
	opts.applyDefaults()

	var d driver
	var err error
	switch loc.Driver {
	case DriverFile:
		d, err = openFile(loc.Path)
	case DriverS3:
		d, err = openS3(ctx, loc, opts)
	default:
		return nil, fmt.Errorf("open %s: driver %q: %w", loc, loc.Driver, h5err.ErrUnsupportedDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc, err)
	}
	return newRetrying(d, loc, opts), nil
}

// driver is one attempt at the underlying resource, without retries.
type driver interface {
	readRange(ctx context.Context, off, length uint64) ([]byte, error)
	size(ctx context.Context) (uint64, error)
	close() error
}

// refresher is implemented by drivers whose credentials can be rotated.
type refresher interface {
	refreshCredentials(ctx context.Context) error
}
