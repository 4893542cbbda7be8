package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/logging"
)

// retrying applies the retry, refresh and timeout policy to a driver.
type retrying struct {
	d       driver
	loc     Location
	opts    Options
	limiter *rate.Limiter
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	sizeMu   sync.Mutex
	size     uint64
	haveSize bool
}

func newRetrying(d driver, loc Location, opts Options) *retrying {
	r := &retrying{
		d:     d,
		loc:   loc,
		opts:  opts,
		log:   logging.For("source").With("resource", loc.String()),
		sleep: sleepContext,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return r
}

func (r *retrying) ReadRange(ctx context.Context, off, length uint64) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "read", func(actx context.Context) error {
		b, err := r.d.readRange(actx, off, length)
		out = b
		return err
	})
	return out, err
}

func (r *retrying) Size(ctx context.Context) (uint64, error) {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	if r.haveSize {
		return r.size, nil
	}
	var n uint64
	err := r.do(ctx, "size", func(actx context.Context) error {
		var err error
		n, err = r.d.size(actx)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.size, r.haveSize = n, true
	return n, nil
}

func (r *retrying) Close() error {
	return r.d.close()
}

// do runs fn under the retry policy.
func (r *retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	refreshed := false
	retries := 0
	for {
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		switch {
		case isAuthError(err) && !refreshed:
			ref, ok := r.d.(refresher)
			if !ok {
				return err
			}
			refreshed = true
			r.log.Info("refreshing credentials after auth error", "op", op, "err", err)
			if rerr := ref.refreshCredentials(ctx); rerr != nil {
				return rerr
			}
			continue

		case h5err.Retryable(err) && retries < r.opts.MaxRetries:
			wait := backoff(retries, r.opts.BackoffBase, r.opts.BackoffCap)
			retries++
			r.log.Debug("retrying", "op", op, "attempt", retries, "wait", wait, "err", err)
			if serr := r.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}

		if h5err.Retryable(err) {
			r.log.Warning("giving up after retries", "op", op, "retries", retries, "err", err)
		}
		return err
	}
}

// attempt makes one bounded call, translating its deadline into ErrIoTimeout.
func (r *retrying) attempt(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	actx, cancel := context.WithTimeout(ctx, r.opts.IOTimeout)
	defer cancel()

	err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("after %s: %w", r.opts.IOTimeout, h5err.ErrIoTimeout)
	}
	return err
}

func isAuthError(err error) bool {
	return errors.Is(err, h5err.ErrAuthFailed) || errors.Is(err, h5err.ErrAuthExpired)
}

// backoff returns base*2^n capped at max.
func backoff(n int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
