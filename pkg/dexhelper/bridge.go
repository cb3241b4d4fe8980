package dexhelper

import (
	"sync"

	"github.com/dexhelper/pkg/errors"
)

// Bridge converts between descriptor references and host reflection objects
// (a java.lang.reflect.Method, a JNI jmethodID wrapper, ...). Implementations
// need not be safe for concurrent use; wrap them with SynchronizedBridge.
type Bridge interface {
	ResolveMethod(ref MethodRef) (any, error)
	ResolveField(ref FieldRef) (any, error)
	ResolveClass(ref ClassRef) (any, error)
	DescribeMethod(obj any) (MethodRef, error)
	DescribeField(obj any) (FieldRef, error)
	DescribeClass(obj any) (ClassRef, error)
}

// SynchronizedBridge serializes calls into a Bridge.
type SynchronizedBridge struct {
	mu    sync.Mutex
	inner Bridge
}

// NewSynchronizedBridge wraps b.
func NewSynchronizedBridge(b Bridge) *SynchronizedBridge {
	return &SynchronizedBridge{inner: b}
}

func (s *SynchronizedBridge) ResolveMethod(ref MethodRef) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ResolveMethod(ref)
}

func (s *SynchronizedBridge) ResolveField(ref FieldRef) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ResolveField(ref)
}

func (s *SynchronizedBridge) ResolveClass(ref ClassRef) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ResolveClass(ref)
}

func (s *SynchronizedBridge) DescribeMethod(obj any) (MethodRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DescribeMethod(obj)
}

func (s *SynchronizedBridge) DescribeField(obj any) (FieldRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DescribeField(obj)
}

func (s *SynchronizedBridge) DescribeClass(obj any) (ClassRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DescribeClass(obj)
}

var errNoBridge = errors.New(errors.CodeUnsupportedType, "no reflection bridge configured")

// DecodeMethodObject resolves a method handle into a host object.
func (h *Helper) DecodeMethodObject(m MethodHandle) (any, error) {
	if h.bridge == nil {
		return nil, errNoBridge
	}
	ref, err := h.DecodeMethod(m)
	if err != nil {
		return nil, err
	}
	return h.bridge.ResolveMethod(ref)
}

// DecodeFieldObject resolves a field handle into a host object.
func (h *Helper) DecodeFieldObject(f FieldHandle) (any, error) {
	if h.bridge == nil {
		return nil, errNoBridge
	}
	ref, err := h.DecodeField(f)
	if err != nil {
		return nil, err
	}
	return h.bridge.ResolveField(ref)
}

// DecodeClassObject resolves a class handle into a host object.
func (h *Helper) DecodeClassObject(c ClassHandle) (any, error) {
	if h.bridge == nil {
		return nil, errNoBridge
	}
	ref, err := h.DecodeClass(c)
	if err != nil {
		return nil, err
	}
	return h.bridge.ResolveClass(ref)
}

// EncodeMethodObject returns the handle of a host method object.
func (h *Helper) EncodeMethodObject(obj any) (MethodHandle, error) {
	if h.bridge == nil {
		return NoneMethod, errNoBridge
	}
	ref, err := h.bridge.DescribeMethod(obj)
	if err != nil {
		return NoneMethod, err
	}
	return h.EncodeMethod(ref)
}

// EncodeFieldObject returns the handle of a host field object.
func (h *Helper) EncodeFieldObject(obj any) (FieldHandle, error) {
	if h.bridge == nil {
		return NoneField, errNoBridge
	}
	ref, err := h.bridge.DescribeField(obj)
	if err != nil {
		return NoneField, err
	}
	return h.EncodeField(ref)
}

// EncodeClassObject returns the handle of a host class object.
func (h *Helper) EncodeClassObject(obj any) (ClassHandle, error) {
	if h.bridge == nil {
		return NoneClass, errNoBridge
	}
	ref, err := h.bridge.DescribeClass(obj)
	if err != nil {
		return NoneClass, err
	}
	return h.EncodeClass(ref)
}
