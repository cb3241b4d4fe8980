package testutil

import (
	"testing"

	"github.com/dexhelper/internal/handle"
)

// MethodDecoder turns method handles back into references.
type MethodDecoder interface {
	DecodeMethod(handle.Method) (handle.MethodRef, error)
}

// FieldDecoder turns field handles back into references.
type FieldDecoder interface {
	DecodeField(handle.Field) (handle.FieldRef, error)
}

// MethodNames decodes handles into smali strings, failing the test on any
// handle that does not resolve.
func MethodNames(t *testing.T, d MethodDecoder, hs []handle.Method) []string {
	t.Helper()
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		ref, err := d.DecodeMethod(h)
		if err != nil {
			t.Fatalf("failed to decode %v: %v", h, err)
		}
		names = append(names, ref.String())
	}
	return names
}

// FieldNames decodes field handles into smali strings.
func FieldNames(t *testing.T, d FieldDecoder, hs []handle.Field) []string {
	t.Helper()
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		ref, err := d.DecodeField(h)
		if err != nil {
			t.Fatalf("failed to decode %v: %v", h, err)
		}
		names = append(names, ref.String())
	}
	return names
}
