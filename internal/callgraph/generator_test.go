package callgraph_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/callgraph"
	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/internal/testutil"
	"github.com/dexhelper/pkg/compression"
	"github.com/dexhelper/pkg/dexhelper"
)

func newHelper(t *testing.T) *dexhelper.Helper {
	t.Helper()
	h, err := dexhelper.FromImages(context.Background(), testutil.SampleImages(t))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func nodeIDs(cg *callgraph.CallGraph) []string {
	ids := make([]string, len(cg.Nodes))
	for i, n := range cg.Nodes {
		ids[i] = n.ID
	}
	return ids
}

const activityOnCreate = "Landroid/app/Activity;->onCreate(Landroid/os/Bundle;)V"

func TestGenerator_Both(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleRequest)
	require.NoError(t, err)

	cg, err := callgraph.NewGenerator(h, nil).Generate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, dexbuild.SampleRequest.String(), cg.Root)
	assert.False(t, cg.Truncated)
	assert.Equal(t, []string{
		dexbuild.SampleRequest.String(),
		dexbuild.SampleOnCreate.String(),
		dexbuild.SampleSyncRun.String(),
		dexbuild.SampleLogD.String(),
		activityOnCreate,
	}, nodeIDs(cg))

	for _, e := range [][2]string{
		{dexbuild.SampleOnCreate.String(), dexbuild.SampleRequest.String()},
		{dexbuild.SampleSyncRun.String(), dexbuild.SampleRequest.String()},
		{dexbuild.SampleRequest.String(), dexbuild.SampleLogD.String()},
		{dexbuild.SampleOnCreate.String(), activityOnCreate},
		{dexbuild.SampleOnCreate.String(), dexbuild.SampleLogD.String()},
	} {
		assert.NotNil(t, cg.GetEdge(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
	assert.Len(t, cg.Edges, 5)

	framework := cg.GetNode(activityOnCreate)
	require.NotNil(t, framework)
	assert.Equal(t, "framework", framework.Category)
	assert.False(t, framework.Defined)
	assert.Equal(t, 2, framework.Depth)

	stats := cg.GetStats()
	assert.Equal(t, 4, stats.ByCategory["application"])
	assert.Equal(t, 2, stats.MaxDepth)
	assert.Equal(t, []string{"application", "framework"}, stats.Categories())
}

func TestGenerator_CallersOnly(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleLogD)
	require.NoError(t, err)

	cg, err := callgraph.NewGenerator(h, &callgraph.GeneratorOptions{
		Direction: callgraph.DirectionCallers,
		MaxDepth:  1,
	}).Generate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		dexbuild.SampleLogD.String(),
		dexbuild.SampleRequest.String(),
		dexbuild.SampleOnCreate.String(),
	}, nodeIDs(cg))
	assert.Len(t, cg.Edges, 2)
	assert.NotNil(t, cg.GetEdge(dexbuild.SampleOnCreate.String(), dexbuild.SampleLogD.String()))
}

func TestGenerator_CalleesAcrossDexes(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleSyncRun)
	require.NoError(t, err)
	require.Equal(t, 1, root.Dex())

	cg, err := callgraph.NewGenerator(h, &callgraph.GeneratorOptions{
		Direction: callgraph.DirectionCallees,
		MaxDepth:  3,
	}).Generate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		dexbuild.SampleSyncRun.String(),
		dexbuild.SampleRequest.String(),
		dexbuild.SampleLogD.String(),
	}, nodeIDs(cg))
	assert.NotNil(t, cg.GetEdge(dexbuild.SampleRequest.String(), dexbuild.SampleLogD.String()))

	request := cg.GetNode(dexbuild.SampleRequest.String())
	require.NotNil(t, request)
	assert.True(t, request.Defined)
	assert.Equal(t, 1, request.Depth)
}

func TestGenerator_Truncated(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleRequest)
	require.NoError(t, err)

	cg, err := callgraph.NewGenerator(h, &callgraph.GeneratorOptions{
		Direction: callgraph.DirectionBoth,
		MaxDepth:  3,
		MaxNodes:  2,
	}).Generate(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, cg.Truncated)
	assert.Len(t, cg.Nodes, 2)
}

func TestGenerator_Canceled(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleRequest)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = callgraph.NewGenerator(h, nil).Generate(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = callgraph.NewGenerator(h, nil).Generate(context.Background(), dexhelper.NoneMethod)
	assert.Error(t, err)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]callgraph.Direction{
		"":        callgraph.DirectionBoth,
		"both":    callgraph.DirectionBoth,
		"callers": callgraph.DirectionCallers,
		"callees": callgraph.DirectionCallees,
	} {
		got, err := callgraph.ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := callgraph.ParseDirection("up")
	assert.Error(t, err)
}

func TestWriters(t *testing.T) {
	h := newHelper(t)
	root, err := h.EncodeMethod(dexbuild.SampleRequest)
	require.NoError(t, err)
	cg, err := callgraph.NewGenerator(h, nil).Generate(context.Background(), root)
	require.NoError(t, err)

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "xref.json.gz")
		require.NoError(t, callgraph.WriteJSON(cg, path))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		plain, typ, err := compression.AutoDecompress(raw)
		require.NoError(t, err)
		assert.Equal(t, compression.TypeGzip, typ)

		var decoded callgraph.CallGraph
		require.NoError(t, json.Unmarshal(plain, &decoded))
		assert.Equal(t, cg.Root, decoded.Root)
		assert.Len(t, decoded.Nodes, len(cg.Nodes))
		assert.Len(t, decoded.Edges, len(cg.Edges))
	})

	t.Run("DOT", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, callgraph.NewDOTWriter().Write(cg, &buf))
		out := buf.String()
		assert.Contains(t, out, "digraph callgraph {")
		assert.Contains(t, out, `"Http\nrequest"`)
		assert.Contains(t, out, "fillcolor=palegreen")
		assert.Contains(t, out, "penwidth=2")
		assert.Contains(t, out, `style="filled,dashed"`)
	})
}
