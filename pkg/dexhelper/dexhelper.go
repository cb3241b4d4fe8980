// Package dexhelper finds methods and fields in Android dex bytecode by
// structure: the strings a method loads, the methods it calls or is called
// by, the fields it reads or writes, and the shape of its signature.
//
// A Helper is built once per class-loading context and answers queries
// concurrently. Results are opaque 64-bit handles; the Encode and Decode
// calls convert them to and from descriptor references, and the *Object
// variants go through a caller-supplied Bridge to host reflection objects.
package dexhelper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/engine"
	"github.com/dexhelper/internal/handle"
	"github.com/dexhelper/internal/index"
	"github.com/dexhelper/internal/match"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/utils"
)

type (
	ClassLoaderContext = dex.ClassLoaderContext
	MethodHandle       = handle.Method
	FieldHandle        = handle.Field
	ClassHandle        = handle.Class
	MethodRef          = handle.MethodRef
	FieldRef           = handle.FieldRef
	ClassRef           = handle.ClassRef
	Query              = match.Query
	QueryOption        = match.QueryOption
	ShortyMode         = match.ShortyMode
	Fetcher            = dex.Fetcher
	DexStats           = index.SlotStats
)

const (
	AnyCount     = match.AnyCount
	ShortyExact  = match.ShortyExact
	ShortyPrefix = match.ShortyPrefix
)

var (
	NoneMethod = handle.NoneMethod
	NoneField  = handle.NoneField
	NoneClass  = handle.NoneClass

	// ErrClosed is returned by every call on a closed Helper.
	ErrClosed = errors.ErrClosed

	NewQuery                   = match.NewQuery
	WithReturnType             = match.WithReturnType
	WithParameterCount         = match.WithParameterCount
	WithShorty                 = match.WithShorty
	WithShortyPrefix           = match.WithShortyPrefix
	WithShortyMode             = match.WithShortyMode
	WithDeclaringClass         = match.WithDeclaringClass
	WithParameterTypes         = match.WithParameterTypes
	WithContainsParameterTypes = match.WithContainsParameterTypes
	WithDexPriority            = match.WithDexPriority
	WithFindFirst              = match.WithFindFirst
	ParseClassPath             = dex.ParseClassPath
	ParseMethodRef             = handle.ParseMethodRef
	ParseFieldRef              = handle.ParseFieldRef
	ParseClassRef              = handle.ParseClassRef
)

// Options configures a Helper.
type Options struct {
	Config   *config.Config
	Logger   utils.Logger
	Fetchers map[string]Fetcher
	Bridge   Bridge
}

// Option configures Options.
type Option func(*Options)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger sets the logger used while loading and indexing.
func WithLogger(logger utils.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithFetchers registers storage backends for scheme:// class-path entries.
func WithFetchers(fetchers map[string]Fetcher) Option {
	return func(o *Options) { o.Fetchers = fetchers }
}

// WithBridge sets the reflection bridge used by the *Object calls.
func WithBridge(b Bridge) Option {
	return func(o *Options) { o.Bridge = b }
}

// Helper answers find queries over one loaded image set.
type Helper struct {
	mu     sync.RWMutex
	closed bool

	images []*dex.Image
	idx    *index.Index
	eng    *engine.Engine
	bridge Bridge
	logger utils.Logger
}

// New loads every dex reachable from cctx and indexes it.
func New(ctx context.Context, cctx ClassLoaderContext, opts ...Option) (*Helper, error) {
	o := buildOptions(opts)
	loader := dex.NewLoader(dex.LoaderOptions{
		Logger:            o.Logger,
		SkipChecksum:      o.Config.Loader.SkipChecksum,
		MaxContainerBytes: o.Config.Loader.MaxContainerBytes,
		Fetchers:          o.Fetchers,
	})
	images, err := loader.Load(ctx, cctx)
	if err != nil {
		return nil, err
	}
	return newHelper(ctx, images, o)
}

// FromImages indexes already parsed images. Their ordinals must equal their
// positions.
func FromImages(ctx context.Context, images []*dex.Image, opts ...Option) (*Helper, error) {
	return newHelper(ctx, images, buildOptions(opts))
}

func buildOptions(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Config == nil {
		o.Config = config.Default()
	}
	o.Logger = utils.OrNull(o.Logger)
	return o
}

func newHelper(ctx context.Context, images []*dex.Image, o *Options) (*Helper, error) {
	mode, err := match.ParseShortyMode(o.Config.Engine.ShortyMode)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "engine.shorty_mode", err)
	}
	idx, err := index.Build(ctx, images, index.Options{
		Eager:      o.Config.Index.Eager,
		MaxWorkers: o.Config.Index.MaxWorkers,
		Logger:     o.Logger,
	})
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(idx, engine.Options{
		ResultCache: o.Config.Engine.ResultCache,
		ShortyMode:  mode,
		Logger:      o.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "engine.result_cache", err)
	}
	o.Logger.Info("indexed %d dex images", len(images))
	return &Helper{
		images: images,
		idx:    idx,
		eng:    eng,
		bridge: o.Bridge,
		logger: o.Logger,
	}, nil
}

// acquire takes the read lock for the duration of one call.
func (h *Helper) acquire() (*engine.Engine, func(), error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return h.eng, h.mu.RUnlock, nil
}

// Close waits for in-flight calls and releases the images and caches. It is
// idempotent; every later call returns ErrClosed.
func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.eng.Purge()
	h.eng = nil
	h.idx = nil
	h.images = nil
	h.logger.Debug("helper closed")
	return nil
}

// DexCount returns the number of loaded dex images.
func (h *Helper) DexCount() (int, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return eng.Index().Len(), nil
}

// Digest identifies the loaded image set: a SHA-256 over each image's header
// signature in ordinal order.
func (h *Helper) Digest() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return "", ErrClosed
	}
	sum := sha256.New()
	for _, img := range h.images {
		sum.Write(img.Header.Signature[:])
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Stats reports per-dex counts.
func (h *Helper) Stats() ([]DexStats, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.Index().Stats(), nil
}

// CreateFullCache scans every method and builds all reverse maps. Calling it
// again after success is a no-op.
func (h *Helper) CreateFullCache(ctx context.Context) error {
	eng, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return eng.Index().BuildFull(ctx)
}

// FindMethodUsingString finds methods loading str, or any string starting
// with str when matchPrefix is set.
func (h *Helper) FindMethodUsingString(ctx context.Context, str string, matchPrefix bool, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethodUsingString(ctx, str, matchPrefix, q)
}

// FindMethodInvoking finds the callers of method.
func (h *Helper) FindMethodInvoking(ctx context.Context, method MethodHandle, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethodInvoking(ctx, method, q)
}

// FindMethodInvoked finds the methods method calls.
func (h *Helper) FindMethodInvoked(ctx context.Context, method MethodHandle, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethodInvoked(ctx, method, q)
}

// FindMethodSettingField finds methods writing field.
func (h *Helper) FindMethodSettingField(ctx context.Context, field FieldHandle, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethodSettingField(ctx, field, q)
}

// FindMethodGettingField finds methods reading field.
func (h *Helper) FindMethodGettingField(ctx context.Context, field FieldHandle, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethodGettingField(ctx, field, q)
}

// FindField finds fields declared with type typ; NoneClass matches all.
func (h *Helper) FindField(ctx context.Context, typ ClassHandle, dexPriority []int, findFirst bool) ([]FieldHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindField(ctx, typ, dexPriority, findFirst)
}

// FindMethod finds defined methods by signature alone.
func (h *Helper) FindMethod(ctx context.Context, q *Query) ([]MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.FindMethod(ctx, q)
}

// EncodeMethod returns the handle of ref.
func (h *Helper) EncodeMethod(ref MethodRef) (MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneMethod, err
	}
	defer release()
	return eng.Codec().EncodeMethod(ref)
}

// EncodeField returns the handle of ref.
func (h *Helper) EncodeField(ref FieldRef) (FieldHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneField, err
	}
	defer release()
	return eng.Codec().EncodeField(ref)
}

// EncodeClass returns the handle of ref.
func (h *Helper) EncodeClass(ref ClassRef) (ClassHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneClass, err
	}
	defer release()
	return eng.Codec().EncodeClass(ref)
}

// DecodeMethod returns the reference a method handle stands for.
func (h *Helper) DecodeMethod(m MethodHandle) (MethodRef, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return MethodRef{}, err
	}
	defer release()
	return eng.Codec().DecodeMethod(m)
}

// DecodeField returns the reference a field handle stands for.
func (h *Helper) DecodeField(f FieldHandle) (FieldRef, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return FieldRef{}, err
	}
	defer release()
	return eng.Codec().DecodeField(f)
}

// DecodeClass returns the reference a class handle stands for.
func (h *Helper) DecodeClass(c ClassHandle) (ClassRef, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return ClassRef{}, err
	}
	defer release()
	return eng.Codec().DecodeClass(c)
}

// CreateClassIndex encodes a class given by descriptor or Java name.
func (h *Helper) CreateClassIndex(name string) (ClassHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneClass, err
	}
	defer release()
	return eng.Codec().CreateClassIndex(name)
}

// CreateMethodIndex encodes a method by owner, name and parameter types.
func (h *Helper) CreateMethodIndex(class, name string, params ...string) (MethodHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneMethod, err
	}
	defer release()
	return eng.Codec().CreateMethodIndex(class, name, params)
}

// CreateFieldIndex encodes a field by owner and name.
func (h *Helper) CreateFieldIndex(class, name string) (FieldHandle, error) {
	eng, release, err := h.acquire()
	if err != nil {
		return NoneField, err
	}
	defer release()
	return eng.Codec().CreateFieldIndex(class, name)
}
