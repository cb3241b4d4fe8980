package dex

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dexhelper/pkg/compression"
	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/utils"
)

// DefaultMaxContainerBytes bounds a single container or archive member.
const DefaultMaxContainerBytes = 512 << 20

// MaxImages is the number of ordinals a composite handle can address.
const MaxImages = 1 << 12

var (
	zipMagic  = []byte("PK\x03\x04")
	dexMagic  = []byte("dex\n")
	cdexMagic = []byte("cdex")
)

// ClassLoaderContext lists the dex sources visible to one class loader, in
// discovery order. Entries are local paths (.dex files, .apk/.jar/.zip
// archives, directories) or storage URIs such as cos://key or s3://key.
type ClassLoaderContext struct {
	Entries []string
}

// ParseClassPath splits a colon separated class path. Storage URIs keep their
// scheme separator.
func ParseClassPath(classPath string) ClassLoaderContext {
	var entries []string
	for _, part := range strings.Split(classPath, ":") {
		if strings.HasPrefix(part, "//") && len(entries) > 0 {
			entries[len(entries)-1] += ":" + part
			continue
		}
		if part = strings.TrimSpace(part); part != "" {
			entries = append(entries, part)
		}
	}
	return ClassLoaderContext{Entries: entries}
}

// Fetcher downloads a container from object storage.
type Fetcher interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Logger            utils.Logger
	SkipChecksum      bool
	MaxContainerBytes int64
	// Fetchers maps a URI scheme ("cos", "s3", "local") to its backend.
	Fetchers map[string]Fetcher
}

// Loader enumerates and parses the containers of a ClassLoaderContext.
type Loader struct {
	opts   LoaderOptions
	logger utils.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.MaxContainerBytes <= 0 {
		opts.MaxContainerBytes = DefaultMaxContainerBytes
	}
	return &Loader{opts: opts, logger: utils.OrNull(opts.Logger)}
}

type loadState struct {
	images []*Image
}

// Load parses every container reachable from cctx. Ordinals follow discovery
// order. The first failure is returned as is; nothing is retried.
func (l *Loader) Load(ctx context.Context, cctx ClassLoaderContext) ([]*Image, error) {
	if len(cctx.Entries) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "class loader context has no entries")
	}
	st := &loadState{}
	for _, entry := range cctx.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.loadEntry(ctx, st, entry); err != nil {
			return nil, err
		}
	}
	if len(st.images) == 0 {
		return nil, errors.Newf(errors.CodeNotFound, "no dex containers reachable from %v", cctx.Entries)
	}
	l.logger.Debug("loaded %d dex images from %d entries", len(st.images), len(cctx.Entries))
	return st.images, nil
}

func (l *Loader) loadEntry(ctx context.Context, st *loadState, entry string) error {
	if scheme, key, ok := strings.Cut(entry, "://"); ok {
		return l.loadRemote(ctx, st, scheme, key, entry)
	}

	info, err := os.Stat(entry)
	if err != nil {
		return errors.Wrap(errors.CodeNotFound, "stat "+entry, err)
	}
	if !info.IsDir() {
		return l.loadFile(st, entry)
	}

	dirEntries, err := os.ReadDir(entry)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", entry, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !isContainerName(de.Name()) {
			continue
		}
		if err := l.loadFile(st, filepath.Join(entry, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isContainerName(name string) bool {
	name = strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(name), ".gz"), ".zst")
	switch filepath.Ext(name) {
	case ".dex", ".apk", ".jar", ".zip":
		return true
	}
	return false
}

func (l *Loader) loadFile(st *loadState, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(errors.CodeNotFound, "open "+path, err)
	}
	defer f.Close()
	data, err := l.readLimited(f, path)
	if err != nil {
		return err
	}
	return l.loadBytes(st, path, data, false)
}

func (l *Loader) loadRemote(ctx context.Context, st *loadState, scheme, key, entry string) error {
	fetcher, ok := l.opts.Fetchers[scheme]
	if !ok || fetcher == nil {
		return errors.Newf(errors.CodeUnsupportedType, "no fetcher for scheme %q (%s)", scheme, entry)
	}
	rc, err := fetcher.Download(ctx, key)
	if err != nil {
		return errors.Wrap(errors.CodeDownloadError, "fetch "+entry, err)
	}
	defer rc.Close()
	data, err := l.readLimited(rc, entry)
	if err != nil {
		return err
	}
	l.logger.Debug("fetched %s (%d bytes)", entry, len(data))
	return l.loadBytes(st, entry, data, false)
}

func (l *Loader) readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.opts.MaxContainerBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > l.opts.MaxContainerBytes {
		return nil, errors.Newf(errors.CodeInvalidInput, "%s exceeds %d bytes", name, l.opts.MaxContainerBytes)
	}
	return data, nil
}

// loadBytes sniffs data and dispatches on its container format. Compressed
// input is unpacked once.
func (l *Loader) loadBytes(st *loadState, name string, data []byte, unpacked bool) error {
	switch {
	case bytes.HasPrefix(data, dexMagic):
		return l.addImage(st, name, data)
	case bytes.HasPrefix(data, zipMagic):
		return l.loadArchive(st, name, data)
	case bytes.HasPrefix(data, cdexMagic):
		return errors.MalformedImage(name, "compact dex is not supported")
	}
	if t := compression.DetectType(data); t != compression.TypeNone && !unpacked {
		raw, _, err := compression.AutoDecompress(data)
		if err != nil {
			return errors.MalformedImage(name, "%v", err)
		}
		if int64(len(raw)) > l.opts.MaxContainerBytes {
			return errors.Newf(errors.CodeInvalidInput, "%s exceeds %d bytes unpacked", name, l.opts.MaxContainerBytes)
		}
		return l.loadBytes(st, name, raw, true)
	}
	return errors.MalformedImage(name, "unrecognized container format")
}

// loadArchive reads classes.dex, classes2.dex, ... and stops at the first
// missing member.
func (l *Loader) loadArchive(st *loadState, name string, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.MalformedImage(name, "bad archive: %v", err)
	}
	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}
	found := 0
	for i := 1; ; i++ {
		member := "classes.dex"
		if i > 1 {
			member = fmt.Sprintf("classes%d.dex", i)
		}
		f, ok := members[member]
		if !ok {
			break
		}
		rc, err := f.Open()
		if err != nil {
			return errors.MalformedImage(name+"!"+member, "%v", err)
		}
		raw, err := l.readLimited(rc, name+"!"+member)
		rc.Close()
		if err != nil {
			return err
		}
		if err := l.addImage(st, name+"!"+member, raw); err != nil {
			return err
		}
		found++
	}
	if found == 0 {
		l.logger.Warn("archive %s contains no classes.dex", name)
	}
	return nil
}

func (l *Loader) addImage(st *loadState, name string, data []byte) error {
	if len(st.images) >= MaxImages {
		return errors.Newf(errors.CodeInvalidInput, "more than %d dex images", MaxImages)
	}
	img, err := Parse(data, ParseOptions{
		Ordinal:      len(st.images),
		Name:         name,
		SkipChecksum: l.opts.SkipChecksum,
	})
	if err != nil {
		return err
	}
	l.logger.WithField("dex", img.Ordinal).Debug("parsed %s: %d classes, %d methods",
		name, len(img.classDefs), len(img.methods))
	st.images = append(st.images, img)
	return nil
}
