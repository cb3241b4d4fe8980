package codec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/codec"
	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/internal/handle"
	"github.com/dexhelper/internal/index"
	"github.com/dexhelper/pkg/errors"
)

var (
	sharedRef = handle.MethodRef{Class: "Lcom/a/Shared;", Name: "run", Params: []string{"I"}, Return: "V"}
	flagRef   = handle.FieldRef{Class: "Lcom/a/Shared;", Name: "flag", Type: "Z"}
)

// dex 0 only calls Shared.run; dex 1 defines it.
func newCodec(t *testing.T) (*codec.Codec, *index.Index) {
	t.Helper()
	caller := dexbuild.New()
	caller.Class("Lcom/a/Main;").Method("main", nil, "V", dex.AccPublic|dex.AccStatic).Code().
		Const4(0, 1).
		InvokeStatic(sharedRef, 0).
		Sget(0, flagRef).
		ReturnVoid()

	owner := dexbuild.New()
	shared := owner.Class("Lcom/a/Shared;")
	shared.Field("flag", "Z", dex.AccStatic)
	shared.Method("run", []string{"I"}, "V", dex.AccPublic|dex.AccStatic).Code().ReturnVoid()

	var images []*dex.Image
	for ord, data := range [][]byte{caller.MustBuild(), owner.MustBuild()} {
		img, err := dex.Parse(data, dex.ParseOptions{Ordinal: ord})
		require.NoError(t, err)
		images = append(images, img)
	}
	idx, err := index.Build(context.Background(), images, index.Options{})
	require.NoError(t, err)
	return codec.New(idx), idx
}

func TestEncode_PrefersDefiningDex(t *testing.T) {
	c, _ := newCodec(t)

	m, err := c.EncodeMethod(sharedRef)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Dex())
	assert.True(t, m.Defined())

	f, err := c.EncodeField(flagRef)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Dex())
	assert.True(t, f.Defined())

	cls, err := c.EncodeClass(handle.ClassRef{Descriptor: "Lcom/a/Shared;"})
	require.NoError(t, err)
	assert.Equal(t, 1, cls.Dex())
	assert.True(t, cls.Defined())
}

func TestEncode_FallsBackToReference(t *testing.T) {
	c, _ := newCodec(t)

	obj, err := c.EncodeClass(handle.ClassRef{Descriptor: "Ljava/lang/Object;"})
	require.NoError(t, err)
	assert.Equal(t, 0, obj.Dex())
	assert.False(t, obj.Defined())

	_, err = c.EncodeMethod(handle.MethodRef{Class: "Lcom/a/Shared;", Name: "missing", Return: "V"})
	assert.True(t, errors.IsHandleNotFound(err))
	_, err = c.EncodeClass(handle.ClassRef{Descriptor: "Lcom/none/X;"})
	assert.True(t, errors.IsHandleNotFound(err))
}

func TestDecode_RoundTrip(t *testing.T) {
	c, _ := newCodec(t)

	m, err := c.EncodeMethod(sharedRef)
	require.NoError(t, err)
	ref, err := c.DecodeMethod(m)
	require.NoError(t, err)
	assert.Equal(t, sharedRef.String(), ref.String())

	f, err := c.EncodeField(flagRef)
	require.NoError(t, err)
	fref, err := c.DecodeField(f)
	require.NoError(t, err)
	assert.Equal(t, flagRef, fref)

	cls, err := c.CreateClassIndex("com.a.Shared")
	require.NoError(t, err)
	cref, err := c.DecodeClass(cls)
	require.NoError(t, err)
	assert.Equal(t, "Lcom/a/Shared;", cref.Descriptor)
}

func TestDecode_Stale(t *testing.T) {
	c, idx := newCodec(t)
	m, err := c.EncodeMethod(sharedRef)
	require.NoError(t, err)

	tests := []struct {
		name string
		h    handle.Method
	}{
		{"none", handle.NoneMethod},
		{"ordinal out of range", handle.NewMethod(7, m.ClassDef(), m.Member())},
		{"member out of range", handle.NewMethod(1, m.ClassDef(), uint32(idx.Image(1).MethodCount()))},
		{"class def disagrees", handle.NewMethod(1, handle.NoClassDef, m.Member())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeMethod(tt.h)
			assert.True(t, errors.IsHandleNotFound(err))
		})
	}

	_, ok := c.ClassDescriptor(handle.NewClass(3, 0, 0))
	assert.False(t, ok)
}

func TestCreateIndex(t *testing.T) {
	c, _ := newCodec(t)

	m, err := c.CreateMethodIndex("com.a.Shared", "run", []string{"int"})
	require.NoError(t, err)
	want, _ := c.EncodeMethod(sharedRef)
	assert.Equal(t, want, m)

	_, err = c.CreateMethodIndex("com.a.Shared", "run", nil)
	assert.True(t, errors.IsHandleNotFound(err))

	f, err := c.CreateFieldIndex("Lcom/a/Shared;", "flag")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Dex())

	_, err = c.CreateFieldIndex("com.a.Shared", "nope")
	assert.True(t, errors.IsHandleNotFound(err))
}
