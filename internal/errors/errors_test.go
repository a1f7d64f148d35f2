package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "typed error",
			err:  NewDumpError("dump failed", nil),
			want: ErrorTypeDump,
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("backup run: %w", NewNotFoundError("no such backup", nil)),
			want: ErrorTypeNotFound,
		},
		{
			name: "plain error",
			err:  errors.New("plain error"),
			want: ErrorTypeUnknown,
		},
		{
			name: "nil error",
			err:  nil,
			want: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetType(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewUploadError("replica upload failed", nil)))
	assert.False(t, IsRetryable(NewValidationError("bad input", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewStateError("registry write failed", nil)))
	assert.False(t, IsFatal(NewTimeoutError("slow resolver", nil)))
}
