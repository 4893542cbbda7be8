package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/robert-malhotra/h5coro/internal/credential"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// S3API is the subset of the S3 client used by the driver.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Driver struct {
	client   S3API
	bucket   string
	key      string
	identity string
	creds    *credential.Registry

	mu       sync.Mutex
	objSize  uint64
	haveSize bool
}

func openS3(ctx context.Context, loc Location, opts Options) (*s3Driver, error) {
	if loc.Resource == "" || loc.Path == "" {
		return nil, fmt.Errorf("s3 location needs bucket and key: %w", h5err.ErrResourceNotFound)
	}
	d := &s3Driver{
		client:   opts.S3Client,
		bucket:   loc.Resource,
		key:      loc.Path,
		identity: loc.Identity,
		creds:    opts.Credentials,
	}
	if d.client == nil {
		client, err := newS3Client(ctx, loc, opts.Credentials)
		if err != nil {
			return nil, err
		}
		d.client = client
	}

	// Stat the object so a missing key or rejected credentials fail at open.
	sctx, cancel := context.WithTimeout(ctx, opts.IOTimeout)
	defer cancel()
	if _, err := d.size(sctx); err != nil {
		return nil, err
	}
	return d, nil
}

func newS3Client(ctx context.Context, loc Location, reg *credential.Registry) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if loc.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(loc.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Retries are handled by the retry policy in this package.
		o.Retryer = aws.NopRetryer{}
		if loc.Endpoint != "" {
			o.BaseEndpoint = aws.String(loc.Endpoint)
			o.UsePathStyle = true
		}
		if loc.Identity != "" {
			o.Credentials = &registryProvider{reg: reg, identity: loc.Identity}
		}
	}), nil
}

// registryProvider hands the SDK a snapshot of the identity's bundle.
type registryProvider struct {
	reg      *credential.Registry
	identity string
}

func (p *registryProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	b, err := p.reg.Get(ctx, p.identity)
	if err != nil {
		return aws.Credentials{}, err
	}
	creds, err := credentials.NewStaticCredentialsProvider(b.AccessKey, b.SecretKey, b.SessionToken).Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	creds.Source = "h5coro/" + p.identity
	if !b.Expiration.IsZero() {
		creds.CanExpire = true
		creds.Expires = b.Expiration
	}
	return creds, nil
}

func (d *s3Driver) refreshCredentials(ctx context.Context) error {
	if d.identity == "" {
		return fmt.Errorf("no identity to refresh: %w", h5err.ErrAuthFailed)
	}
	_, err := d.creds.Refresh(ctx, d.identity)
	return err
}

func (d *s3Driver) readRange(ctx context.Context, off, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", off, off+length-1)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", d.key, rng, classifyS3(err))
	}
	defer out.Body.Close()

	buf := make([]byte, length)
	n, err := io.ReadFull(out.Body, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], fmt.Errorf("get %s %s got %d bytes: %w", d.key, rng, n, h5err.ErrShortRead)
	default:
		return nil, fmt.Errorf("get %s %s: body: %v: %w", d.key, rng, err, h5err.ErrIoTransient)
	}
}

func (d *s3Driver) size(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.haveSize {
		return d.objSize, nil
	}
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	if err != nil {
		return 0, fmt.Errorf("head %s/%s: %w", d.bucket, d.key, classifyS3(err))
	}
	d.objSize = uint64(aws.ToInt64(out.ContentLength))
	d.haveSize = true
	return d.objSize, nil
}

func (d *s3Driver) close() error {
	return nil
}

// classifyS3 maps an SDK error to an error kind.
func classifyS3(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, h5err.ErrAuthExpired) || errors.Is(err, h5err.ErrAuthFailed) {
		return err
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%v: %w", err, h5err.ErrResourceNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%v: %w", err, h5err.ErrResourceNotFound)
		case "ExpiredToken", "TokenRefreshRequired", "RequestExpired":
			return fmt.Errorf("%v: %w", err, h5err.ErrAuthExpired)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken":
			return fmt.Errorf("%v: %w", err, h5err.ErrAuthFailed)
		case "InvalidRange":
			return fmt.Errorf("%v: %w", err, h5err.ErrShortRead)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return fmt.Errorf("%v: %w", err, h5err.ErrIoTransient)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 404:
			return fmt.Errorf("%v: %w", err, h5err.ErrResourceNotFound)
		case status == 401 || status == 403:
			return fmt.Errorf("%v: %w", err, h5err.ErrAuthFailed)
		case status == 416:
			return fmt.Errorf("%v: %w", err, h5err.ErrShortRead)
		case status == 429 || status >= 500:
			return fmt.Errorf("%v: %w", err, h5err.ErrIoTransient)
		case status >= 400:
			return err
		}
	}

	// Anything without a response is a network failure.
	return fmt.Errorf("%v: %w", err, h5err.ErrIoTransient)
}
