// Package filter sorts classes into runtime, framework, library and
// application code by descriptor prefix.
package filter

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dexhelper/internal/dex"
)

// ClassCategory represents the category of a class.
type ClassCategory int

const (
	// CategoryUnknown indicates the class category is unknown.
	CategoryUnknown ClassCategory = iota
	// CategoryPrimitive indicates primitive types and their arrays.
	CategoryPrimitive
	// CategoryRuntime indicates the Java and Kotlin runtimes.
	CategoryRuntime
	// CategoryFramework indicates the Android platform and support libraries.
	CategoryFramework
	// CategoryLibrary indicates bundled third-party libraries.
	CategoryLibrary
	// CategoryApplication indicates the application's own code.
	CategoryApplication
)

// String returns the string representation of the category.
func (c ClassCategory) String() string {
	switch c {
	case CategoryPrimitive:
		return "primitive"
	case CategoryRuntime:
		return "runtime"
	case CategoryFramework:
		return "framework"
	case CategoryLibrary:
		return "library"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

const defaultCacheSize = 10000

// ClassFilter classifies classes given as descriptors (Lcom/a/B;) or Java
// names (com.a.B). Prefixes are kept in descriptor form. Without application
// prefixes every unmatched class counts as application code; with them,
// unmatched classes count as libraries.
// It is safe for concurrent use.
type ClassFilter struct {
	mu sync.RWMutex

	runtimePrefixes   []string
	frameworkPrefixes []string
	libraryPrefixes   []string
	appPrefixes       []string

	cache *lru.Cache[string, ClassCategory]
}

// NewClassFilter creates a new ClassFilter with default rules.
func NewClassFilter() *ClassFilter {
	f := &ClassFilter{}
	f.cache, _ = lru.New[string, ClassCategory](defaultCacheSize)
	f.initDefaults()
	return f
}

func (f *ClassFilter) initDefaults() {
	f.runtimePrefixes = []string{
		"Ljava/",
		"Ljavax/",
		"Lkotlin/",
		"Lkotlinx/",
		"Ldalvik/",
		"Llibcore/",
		"Lsun/",
		"Lorg/json/",
		"Lorg/xmlpull/",
	}

	f.frameworkPrefixes = []string{
		"Landroid/",
		"Landroidx/",
		"Lcom/android/",
		"Lcom/google/android/material/",
		"Lcom/google/android/gms/",
	}

	f.libraryPrefixes = []string{
		"Lokhttp3/",
		"Lokio/",
		"Lretrofit2/",
		"Lcom/squareup/",
		"Lcom/google/gson/",
		"Lcom/google/common/",
		"Lcom/google/protobuf/",
		"Lcom/bumptech/glide/",
		"Lio/reactivex/",
		"Lrx/",
		"Ldagger/",
		"Lorg/apache/",
	}
}

// Classify returns the category of a class.
func (f *ClassFilter) Classify(className string) ClassCategory {
	if className == "" {
		return CategoryUnknown
	}
	desc := dex.Descriptor(className)

	if cat, ok := f.cache.Get(desc); ok {
		return cat
	}
	cat := f.classifyUncached(desc)
	f.cache.Add(desc, cat)
	return cat
}

func (f *ClassFilter) classifyUncached(desc string) ClassCategory {
	elem := strings.TrimLeft(desc, "[")
	if len(elem) == 1 {
		return CategoryPrimitive
	}
	if !strings.HasPrefix(elem, "L") {
		return CategoryUnknown
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// application prefixes win so an app can live under com.android.
	if hasAnyPrefix(elem, f.appPrefixes) {
		return CategoryApplication
	}
	if hasAnyPrefix(elem, f.runtimePrefixes) {
		return CategoryRuntime
	}
	if hasAnyPrefix(elem, f.frameworkPrefixes) {
		return CategoryFramework
	}
	if hasAnyPrefix(elem, f.libraryPrefixes) {
		return CategoryLibrary
	}
	if len(f.appPrefixes) > 0 {
		return CategoryLibrary
	}
	return CategoryApplication
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// IsApplicationLevel returns true for code shipped in the APK: libraries and
// application classes.
func (f *ClassFilter) IsApplicationLevel(className string) bool {
	cat := f.Classify(className)
	return cat == CategoryApplication || cat == CategoryLibrary
}

// prefixDescriptor turns "com.example" or "com.example." into "Lcom/example/".
func prefixDescriptor(prefix string) string {
	if strings.HasPrefix(prefix, "L") && strings.Contains(prefix, "/") {
		return prefix
	}
	p := strings.ReplaceAll(strings.TrimSuffix(prefix, "."), ".", "/")
	return "L" + p + "/"
}

func (f *ClassFilter) add(list *[]string, prefix string) {
	p := prefixDescriptor(prefix)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range *list {
		if existing == p {
			return
		}
	}
	*list = append(*list, p)
	// classification may change
	f.cache.Purge()
}

// AddApplicationPrefix marks a package as application code.
func (f *ClassFilter) AddApplicationPrefix(prefix string) {
	f.add(&f.appPrefixes, prefix)
}

// AddApplicationPrefixes adds multiple application package prefixes.
func (f *ClassFilter) AddApplicationPrefixes(prefixes []string) {
	for _, prefix := range prefixes {
		f.AddApplicationPrefix(prefix)
	}
}

// AddLibraryPrefix marks a package as a bundled library.
func (f *ClassFilter) AddLibraryPrefix(prefix string) {
	f.add(&f.libraryPrefixes, prefix)
}

// AddFrameworkPrefix marks a package as platform code.
func (f *ClassFilter) AddFrameworkPrefix(prefix string) {
	f.add(&f.frameworkPrefixes, prefix)
}

// DefaultFilter is the default global filter instance.
var DefaultFilter = NewClassFilter()
