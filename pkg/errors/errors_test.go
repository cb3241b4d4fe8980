package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeHandleNotFound, "method handle is stale"),
			expected: "[HANDLE_NOT_FOUND] method handle is stale",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeMalformedImage, "classes.dex", errors.New("bad magic")),
			expected: "[MALFORMED_IMAGE] classes.dex: bad magic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeIndexExhausted, "scan failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeMalformedImage, "error 1")
	err2 := New(CodeMalformedImage, "error 2")
	err3 := New(CodeIndexExhausted, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"malformed", MalformedImage("a.dex", "bad checksum %x", 1), IsMalformedImage, true},
		{"malformed wrapped by fmt", fmt.Errorf("load: %w", MalformedImage("a.dex", "x")), IsMalformedImage, true},
		{"exhausted", IndexExhausted("a.dex", "code_off %d", 9), IsIndexExhausted, true},
		{"exhausted is not malformed", IndexExhausted("a.dex", "x"), IsMalformedImage, false},
		{"handle", ErrHandleNotFound, IsHandleNotFound, true},
		{"closed", fmt.Errorf("query: %w", ErrClosed), IsClosed, true},
		{"database", Wrap(CodeDatabaseError, "db", errors.New("refused")), IsDatabaseError, true},
		{"nil", nil, IsClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeMalformedImage, GetErrorCode(MalformedImage("x", "y")))
	assert.Equal(t, CodeClosed, GetErrorCode(fmt.Errorf("wrapped: %w", ErrClosed)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
	assert.Equal(t, CodeUnknown, GetErrorCode(nil))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "handle not found", GetErrorMessage(ErrHandleNotFound))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
	assert.Equal(t, "bad", GetErrorMessage(Newf(CodeInvalidInput, "%s", "bad")))
}
