package hunt

import (
	"context"
	"fmt"

	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/model"
)

// Target is the part of a dexhelper.Helper a hunt needs.
type Target interface {
	Digest() (string, error)
	FindMethodUsingString(ctx context.Context, str string, matchPrefix bool, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindMethodInvoking(ctx context.Context, method dexhelper.MethodHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindMethodInvoked(ctx context.Context, method dexhelper.MethodHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindMethodSettingField(ctx context.Context, field dexhelper.FieldHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindMethodGettingField(ctx context.Context, field dexhelper.FieldHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindField(ctx context.Context, typ dexhelper.ClassHandle, dexPriority []int, findFirst bool) ([]dexhelper.FieldHandle, error)
	FindMethod(ctx context.Context, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	EncodeMethod(ref dexhelper.MethodRef) (dexhelper.MethodHandle, error)
	EncodeField(ref dexhelper.FieldRef) (dexhelper.FieldHandle, error)
	DecodeMethod(m dexhelper.MethodHandle) (dexhelper.MethodRef, error)
	DecodeField(f dexhelper.FieldHandle) (dexhelper.FieldRef, error)
	CreateClassIndex(name string) (dexhelper.ClassHandle, error)
}

var _ Target = (*dexhelper.Helper)(nil)

// Resolve runs one fingerprint. Problems with the fingerprint itself (an
// unknown anchor or class) are reported in Resolution.Error; only closed
// helpers, broken code items and ctx errors are returned.
func Resolve(ctx context.Context, t Target, fp *Fingerprint) (model.Resolution, error) {
	res := model.Resolution{
		Name:     fp.Name,
		QueryKey: fp.Key(),
		Kind:     fp.Kind,
		Handles:  []uint64{},
		Refs:     []string{},
	}
	if res.Kind == "" {
		res.Kind = model.KindMethod
	}

	if res.Kind == model.KindField {
		fields, err := findFields(ctx, t, fp)
		if err != nil {
			return res, recordable(&res, err)
		}
		for _, f := range fields {
			ref, err := t.DecodeField(f)
			if err != nil {
				return res, err
			}
			res.Handles = append(res.Handles, uint64(f))
			res.Refs = append(res.Refs, ref.String())
		}
		return res, nil
	}

	methods, err := findMethods(ctx, t, fp)
	if err != nil {
		return res, recordable(&res, err)
	}
	for _, m := range methods {
		ref, err := t.DecodeMethod(m)
		if err != nil {
			return res, err
		}
		res.Handles = append(res.Handles, uint64(m))
		res.Refs = append(res.Refs, ref.String())
	}
	return res, nil
}

// fingerprintError marks a problem that belongs in the resolution record.
type fingerprintError struct{ msg string }

func (e *fingerprintError) Error() string { return e.msg }

func badFingerprint(format string, args ...interface{}) error {
	return &fingerprintError{msg: fmt.Sprintf(format, args...)}
}

func recordable(res *model.Resolution, err error) error {
	if fe, ok := err.(*fingerprintError); ok {
		res.Error = fe.msg
		return nil
	}
	return err
}

func findFields(ctx context.Context, t Target, fp *Fingerprint) ([]dexhelper.FieldHandle, error) {
	typ := dexhelper.NoneClass
	if fp.FieldType != "" {
		c, err := t.CreateClassIndex(fp.FieldType)
		if err != nil {
			return nil, badFingerprint("field type %s: %v", fp.FieldType, err)
		}
		typ = c
	}
	return t.FindField(ctx, typ, fp.Query.DexPriority, fp.Query.FindFirst)
}

func findMethods(ctx context.Context, t Target, fp *Fingerprint) ([]dexhelper.MethodHandle, error) {
	q, err := BuildQuery(t, &fp.Query)
	if err != nil {
		return nil, err
	}
	switch {
	case fp.String != "" || fp.Prefix:
		return t.FindMethodUsingString(ctx, fp.String, fp.Prefix, q)
	case fp.Invoking != "":
		m, err := encodeMethod(t, fp.Invoking)
		if err != nil {
			return nil, err
		}
		return t.FindMethodInvoking(ctx, m, q)
	case fp.Invoked != "":
		m, err := encodeMethod(t, fp.Invoked)
		if err != nil {
			return nil, err
		}
		return t.FindMethodInvoked(ctx, m, q)
	case fp.Getting != "":
		f, err := encodeField(t, fp.Getting)
		if err != nil {
			return nil, err
		}
		return t.FindMethodGettingField(ctx, f, q)
	case fp.Setting != "":
		f, err := encodeField(t, fp.Setting)
		if err != nil {
			return nil, err
		}
		return t.FindMethodSettingField(ctx, f, q)
	}
	return t.FindMethod(ctx, q)
}

func encodeMethod(t Target, s string) (dexhelper.MethodHandle, error) {
	ref, err := dexhelper.ParseMethodRef(s)
	if err != nil {
		return dexhelper.NoneMethod, badFingerprint("%v", err)
	}
	m, err := t.EncodeMethod(ref)
	if err != nil {
		return dexhelper.NoneMethod, badFingerprint("method %s not found", s)
	}
	return m, nil
}

func encodeField(t Target, s string) (dexhelper.FieldHandle, error) {
	ref, err := dexhelper.ParseFieldRef(s)
	if err != nil {
		return dexhelper.NoneField, badFingerprint("%v", err)
	}
	f, err := t.EncodeField(ref)
	if err != nil {
		return dexhelper.NoneField, badFingerprint("field %s not found", s)
	}
	return f, nil
}

// ClassIndexer resolves class names to handles.
type ClassIndexer interface {
	CreateClassIndex(name string) (dexhelper.ClassHandle, error)
}

// BuildQuery turns spec into a query, resolving class names through t.
// Unknown classes are reported as errors, not as empty matches.
func BuildQuery(t ClassIndexer, spec *QuerySpec) (*dexhelper.Query, error) {
	class := func(name string) (dexhelper.ClassHandle, error) {
		if name == "" || name == "*" {
			return dexhelper.NoneClass, nil
		}
		c, err := t.CreateClassIndex(name)
		if err != nil {
			return dexhelper.NoneClass, badFingerprint("class %s not found", name)
		}
		return c, nil
	}
	classes := func(names []string) ([]dexhelper.ClassHandle, error) {
		out := make([]dexhelper.ClassHandle, 0, len(names))
		for _, n := range names {
			c, err := class(n)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	var opts []dexhelper.QueryOption
	if spec.DeclaringClass != "" {
		c, err := class(spec.DeclaringClass)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dexhelper.WithDeclaringClass(c))
	}
	if spec.ReturnType != "" {
		c, err := class(spec.ReturnType)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dexhelper.WithReturnType(c))
	}
	if spec.ParameterTypes != nil {
		cs, err := classes(spec.ParameterTypes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dexhelper.WithParameterTypes(cs...))
	}
	if len(spec.ContainsParameterTypes) > 0 {
		cs, err := classes(spec.ContainsParameterTypes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dexhelper.WithContainsParameterTypes(cs...))
	}
	if spec.ParameterCount != nil {
		opts = append(opts, dexhelper.WithParameterCount(*spec.ParameterCount))
	}
	if spec.Shorty != "" {
		if spec.ShortyPrefix {
			opts = append(opts, dexhelper.WithShortyPrefix(spec.Shorty))
		} else {
			opts = append(opts, dexhelper.WithShorty(spec.Shorty))
		}
	}
	if len(spec.DexPriority) > 0 {
		opts = append(opts, dexhelper.WithDexPriority(spec.DexPriority...))
	}
	opts = append(opts, dexhelper.WithFindFirst(spec.FindFirst))
	return dexhelper.NewQuery(opts...), nil
}
