package h5err

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare", ErrInvalidSlice, "InvalidSlice"},
		{"wrapped", fmt.Errorf("read /a: %w", ErrPathNotFound), "PathNotFound"},
		{"double wrapped", fmt.Errorf("x: %w", fmt.Errorf("y: %w", ErrChecksumFailure)), "ChecksumFailure"},
		{"foreign", errors.New("boom"), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("get: %w", ErrIoTransient)))
	assert.False(t, Retryable(ErrIoTimeout))
	assert.False(t, Retryable(ErrAuthFailed))
	assert.False(t, Retryable(nil))
}
