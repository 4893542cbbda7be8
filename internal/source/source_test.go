package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5coro/internal/credential"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"/data/a.h5", Location{Driver: "file", Path: "/data/a.h5"}},
		{"file:///data/a.h5", Location{Driver: "file", Path: "/data/a.h5"}},
		{"s3://bucket/dir/a.h5", Location{Driver: "s3", Resource: "bucket", Path: "dir/a.h5"}},
		{"gs://bucket/a.h5", Location{Driver: "gs", Resource: "bucket", Path: "a.h5"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseURL("s3:///nobucket")
	assert.Error(t, err)
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSource(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	src, err := Open(context.Background(), Location{Driver: DriverFile, Path: writeTemp(t, data)}, Options{})
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	n, err := src.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), n)

	b, err := src.ReadRange(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, data[10:30], b)

	b, err = src.ReadRange(ctx, 990, 20)
	assert.ErrorIs(t, err, h5err.ErrShortRead)
	assert.Equal(t, data[990:], b)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Location{Driver: DriverFile, Path: filepath.Join(t.TempDir(), "missing.h5")}, Options{})
	assert.ErrorIs(t, err, h5err.ErrResourceNotFound)

	_, err = Open(ctx, Location{Driver: DriverFile, Path: t.TempDir()}, Options{})
	assert.ErrorIs(t, err, h5err.ErrResourceNotFound)

	_, err = Open(ctx, Location{Driver: "ftp", Resource: "h", Path: "x"}, Options{})
	assert.ErrorIs(t, err, h5err.ErrUnsupportedDriver)
}

// scriptDriver fails according to a queue of errors, then succeeds.
type scriptDriver struct {
	errs      []error
	calls     atomic.Int32
	refreshes atomic.Int32
	block     bool
}

func (d *scriptDriver) readRange(ctx context.Context, off, length uint64) ([]byte, error) {
	i := int(d.calls.Add(1)) - 1
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	return bytes.Repeat([]byte{7}, int(length)), nil
}

func (d *scriptDriver) size(context.Context) (uint64, error) { return 100, nil }
func (d *scriptDriver) close() error                         { return nil }

func (d *scriptDriver) refreshCredentials(context.Context) error {
	d.refreshes.Add(1)
	return nil
}

func newTestRetrying(d driver, opts Options) (*retrying, *[]time.Duration) {
	opts.applyDefaults()
	r := newRetrying(d, Location{Driver: "test", Resource: "b", Path: "k"}, opts)
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestRetryTransient(t *testing.T) {
	transient := fmt.Errorf("503: %w", h5err.ErrIoTransient)
	d := &scriptDriver{errs: []error{transient, transient, transient}}
	r, waits := newTestRetrying(d, Options{})

	b, err := r.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Len(t, b, 4)
	assert.Equal(t, int32(4), d.calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}, *waits)
}

func TestRetryExhausted(t *testing.T) {
	transient := fmt.Errorf("reset: %w", h5err.ErrIoTransient)
	d := &scriptDriver{errs: []error{transient, transient, transient, transient, transient}}
	r, _ := newTestRetrying(d, Options{})

	_, err := r.ReadRange(context.Background(), 0, 4)
	assert.ErrorIs(t, err, h5err.ErrIoTransient)
	assert.Equal(t, int32(4), d.calls.Load())
}

func TestRetryAuthRefreshOnce(t *testing.T) {
	denied := fmt.Errorf("403: %w", h5err.ErrAuthFailed)

	d := &scriptDriver{errs: []error{denied}}
	r, _ := newTestRetrying(d, Options{})
	_, err := r.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(1), d.refreshes.Load())

	d = &scriptDriver{errs: []error{denied, denied}}
	r, _ = newTestRetrying(d, Options{})
	_, err = r.ReadRange(context.Background(), 0, 4)
	assert.ErrorIs(t, err, h5err.ErrAuthFailed)
	assert.Equal(t, int32(1), d.refreshes.Load())
	assert.Equal(t, int32(2), d.calls.Load())
}

func TestTimeout(t *testing.T) {
	d := &scriptDriver{block: true}
	r, waits := newTestRetrying(d, Options{IOTimeout: 20 * time.Millisecond})

	_, err := r.ReadRange(context.Background(), 0, 4)
	assert.ErrorIs(t, err, h5err.ErrIoTimeout)
	assert.Empty(t, *waits)
}

func TestCallerCancel(t *testing.T) {
	d := &scriptDriver{}
	r, _ := newTestRetrying(d, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadRange(ctx, 0, 4)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestBackoff(t *testing.T) {
	base, max := 200*time.Millisecond, 2*time.Second
	assert.Equal(t, 200*time.Millisecond, backoff(0, base, max))
	assert.Equal(t, 1600*time.Millisecond, backoff(3, base, max))
	assert.Equal(t, 2*time.Second, backoff(4, base, max))
	assert.Equal(t, 2*time.Second, backoff(30, base, max))
}

type fakeS3 struct {
	data     []byte
	getErrs  []error
	headErr  error
	getCalls int
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getCalls++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var start, end int
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	if end >= len(f.data) {
		end = len(f.data) - 1
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data[start : end+1]))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data)))}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{data: []byte("0123456789abcdef")}
	reg := credential.NewRegistry()
	loc := Location{Identity: "test", Driver: DriverS3, Resource: "bucket", Path: "key.h5"}

	src, err := Open(context.Background(), loc, Options{S3Client: fake, Credentials: reg})
	require.NoError(t, err)

	n, err := src.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	b, err := src.ReadRange(context.Background(), 4, 6)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(b))

	_, err = src.ReadRange(context.Background(), 12, 8)
	assert.ErrorIs(t, err, h5err.ErrShortRead)
}

func TestS3OpenNotFound(t *testing.T) {
	fake := &fakeS3{headErr: &smithy.GenericAPIError{Code: "NotFound", Message: "no such key"}}
	loc := Location{Driver: DriverS3, Resource: "bucket", Path: "missing.h5"}
	_, err := Open(context.Background(), loc, Options{S3Client: fake, Credentials: credential.NewRegistry()})
	assert.ErrorIs(t, err, h5err.ErrResourceNotFound)
}

func TestS3ExpiredTokenRefreshes(t *testing.T) {
	fake := &fakeS3{
		data:    []byte("abcdef"),
		getErrs: []error{&smithy.GenericAPIError{Code: "ExpiredToken"}},
	}
	reg := credential.NewRegistry()
	refreshed := 0
	reg.SetRefresher(func(ctx context.Context, identity string) (credential.Bundle, error) {
		refreshed++
		return credential.Bundle{AccessKey: "a", SecretKey: "s"}, nil
	})
	loc := Location{Identity: "id", Driver: DriverS3, Resource: "bucket", Path: "k"}
	src, err := Open(context.Background(), loc, Options{S3Client: fake, Credentials: reg})
	require.NoError(t, err)

	b, err := src.ReadRange(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 2, fake.getCalls)
}

func TestS3ExpiredWithoutRefresher(t *testing.T) {
	fake := &fakeS3{
		data:    []byte("abcdef"),
		getErrs: []error{&smithy.GenericAPIError{Code: "ExpiredToken"}},
	}
	loc := Location{Identity: "id", Driver: DriverS3, Resource: "bucket", Path: "k"}
	src, err := Open(context.Background(), loc, Options{S3Client: fake, Credentials: credential.NewRegistry()})
	require.NoError(t, err)

	_, err = src.ReadRange(context.Background(), 0, 3)
	assert.ErrorIs(t, err, h5err.ErrAuthExpired)
}

func TestClassifyS3(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"NoSuchKey", h5err.ErrResourceNotFound},
		{"AccessDenied", h5err.ErrAuthFailed},
		{"ExpiredToken", h5err.ErrAuthExpired},
		{"SlowDown", h5err.ErrIoTransient},
		{"InvalidRange", h5err.ErrShortRead},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyS3(&smithy.GenericAPIError{Code: tt.code})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, classifyS3(io.ErrUnexpectedEOF), h5err.ErrIoTransient)
}
