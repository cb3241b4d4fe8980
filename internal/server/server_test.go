package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/callgraph"
	"github.com/dexhelper/internal/dex/dexbuild"
	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/internal/server"
	"github.com/dexhelper/internal/testutil"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/model"
)

func newHelper(t *testing.T) *dexhelper.Helper {
	t.Helper()
	h, err := dexhelper.New(context.Background(), dexhelper.ClassLoaderContext{
		Entries: []string{testutil.SampleAPK(t)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newServer(t *testing.T, withRepos bool) (*server.Server, *dexhelper.Helper) {
	t.Helper()
	h := newHelper(t)
	conf := &server.Config{Helper: h, Source: "sample.apk"}
	if withRepos {
		db, err := repository.Open(&config.DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "server.db"),
		})
		require.NoError(t, err)
		repos := repository.NewRepositories(db)
		t.Cleanup(func() { repos.Close() })
		conf.Repos = repos
		conf.Runner = hunt.NewRunner(h, hunt.Options{
			Runs:        repos.Run,
			Resolutions: repos.Resolution,
		})
	}
	return server.NewServer(conf), h
}

func do(t *testing.T, s *server.Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestServer_Ping(t *testing.T) {
	s, _ := newServer(t, false)
	w := do(t, s, http.MethodGet, "/api/v1/_ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestServer_PingDatabaseDown(t *testing.T) {
	db, err := repository.Open(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "ping.db"),
	})
	require.NoError(t, err)
	repos := repository.NewRepositories(db)
	s := server.NewServer(&server.Config{Helper: newHelper(t), Repos: repos})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/_ping", nil).Code)

	require.NoError(t, repos.Close())
	w := do(t, s, http.MethodGet, "/api/v1/_ping", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unavailable")
}

func TestServer_Stats(t *testing.T) {
	s, h := newServer(t, false)

	w := do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Source string               `json:"source"`
		Digest string               `json:"digest"`
		Dexes  []dexhelper.DexStats `json:"dexes"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, "sample.apk", body.Source)
	assert.Len(t, body.Digest, 64)
	require.Len(t, body.Dexes, 2)
	assert.Equal(t, 3, body.Dexes[0].Classes)

	require.NoError(t, h.Close())
	w = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Find(t *testing.T) {
	s, _ := newServer(t, false)

	tests := []struct {
		name   string
		body   string
		status int
		refs   []string
	}{
		{
			name:   "Invoking",
			body:   fmt.Sprintf(`{"invoking": %q}`, dexbuild.SampleRequest.String()),
			status: http.StatusOK,
			refs:   []string{dexbuild.SampleOnCreate.String(), dexbuild.SampleSyncRun.String()},
		},
		{
			name:   "FieldType",
			body:   `{"kind": "field", "field_type": "java.lang.String"}`,
			status: http.StatusOK,
			refs:   []string{dexbuild.SampleLogTag.String(), dexbuild.SampleToken.String()},
		},
		{
			name:   "TwoAnchors",
			body:   `{"string": "a", "invoked": "La;->b()V"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "UnknownMethod",
			body:   `{"invoking": "Lcom/example/Nope;->x()V"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "NotJSON",
			body:   `fingerprints: []`,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/find", strings.NewReader(tt.body))
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				assert.Contains(t, w.Body.String(), `"error"`)
				return
			}
			var res struct {
				model.Resolution
				HandlesHex []string `json:"handles_hex"`
			}
			decodeBody(t, w, &res)
			assert.Equal(t, "adhoc", res.Name)
			assert.Equal(t, tt.refs, res.Refs)
			assert.Len(t, res.Handles, len(tt.refs))
			require.Len(t, res.HandlesHex, len(res.Handles))
			for i, hx := range res.HandlesHex {
				raw, err := strconv.ParseUint(hx, 0, 64)
				require.NoError(t, err)
				assert.Equal(t, res.Handles[i], raw)
			}
		})
	}
}

func TestServer_FindString(t *testing.T) {
	s, _ := newServer(t, false)

	q := url.Values{"s": {"https://api.example.com/"}, "prefix": {"true"}}
	w := do(t, s, http.MethodGet, "/api/v1/find/string?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Methods    []string `json:"methods"`
		HandlesHex []string `json:"handles_hex"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, []string{
		dexbuild.SampleRequest.String(),
		dexbuild.SampleOnCreate.String(),
	}, body.Methods)
	assert.Len(t, body.HandlesHex, 2)

	w = do(t, s, http.MethodGet, "/api/v1/find/string", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Decode(t *testing.T) {
	s, h := newServer(t, false)
	logD, err := h.EncodeMethod(dexbuild.SampleLogD)
	require.NoError(t, err)
	token, err := h.EncodeField(dexbuild.SampleToken)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		status int
		ref    string
		hex    string
	}{
		{"Method", fmt.Sprintf("/api/v1/decode/method/%d", uint64(logD)), http.StatusOK, dexbuild.SampleLogD.String(), fmt.Sprintf("%#x", uint64(logD))},
		{"Hex", fmt.Sprintf("/api/v1/decode/field/%#x", uint64(token)), http.StatusOK, dexbuild.SampleToken.String(), fmt.Sprintf("%#x", uint64(token))},
		{"None", fmt.Sprintf("/api/v1/decode/method/%d", uint64(dexhelper.NoneMethod)), http.StatusNotFound, "", ""},
		{"BadHandle", "/api/v1/decode/method/xyz", http.StatusBadRequest, "", ""},
		{"BadKind", "/api/v1/decode/proto/1", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Ref       string `json:"ref"`
				HandleHex string `json:"handle_hex"`
			}
			decodeBody(t, w, &body)
			assert.Equal(t, tt.ref, body.Ref)
			assert.Equal(t, tt.hex, body.HandleHex)
		})
	}
}

func TestServer_Xref(t *testing.T) {
	s, _ := newServer(t, false)

	q := url.Values{
		"method":    {dexbuild.SampleRequest.String()},
		"direction": {"callers"},
		"depth":     {"1"},
	}
	w := do(t, s, http.MethodGet, "/api/v1/xref?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cg callgraph.CallGraph
	decodeBody(t, w, &cg)
	assert.Equal(t, dexbuild.SampleRequest.String(), cg.Root)
	assert.Len(t, cg.Nodes, 3)
	assert.Len(t, cg.Edges, 2)

	for _, bad := range []url.Values{
		{},
		{"method": {"nope"}},
		{"method": {dexbuild.SampleRequest.String()}, "direction": {"sideways"}},
		{"method": {dexbuild.SampleRequest.String()}, "depth": {"-1"}},
	} {
		w := do(t, s, http.MethodGet, "/api/v1/xref?"+bad.Encode(), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad.Encode())
	}

	q.Set("method", "Lcom/example/Nope;->x()V")
	w = do(t, s, http.MethodGet, "/api/v1/xref?"+q.Encode(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Hunts(t *testing.T) {
	t.Run("Unconfigured", func(t *testing.T) {
		s, _ := newServer(t, false)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/v1/hunts", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/v1/hunts/x", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable,
			do(t, s, http.MethodPost, "/api/v1/hunts", strings.NewReader("fingerprints: []")).Code)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		s, _ := newServer(t, true)

		yaml := fmt.Sprintf("fingerprints:\n  - name: sync\n    string: sync_token\n  - name: reader\n    getting: %q\n",
			dexbuild.SampleToken.String())
		w := do(t, s, http.MethodPost, "/api/v1/hunts", strings.NewReader(yaml))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var report hunt.Report
		decodeBody(t, w, &report)
		require.NotNil(t, report.Run)
		assert.Equal(t, model.RunStatusCompleted, report.Run.Status)
		assert.Equal(t, 2, report.Run.Resolved)

		w = do(t, s, http.MethodGet, "/api/v1/hunts?limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Runs []*model.Run `json:"runs"`
		}
		decodeBody(t, w, &list)
		require.Len(t, list.Runs, 1)
		assert.Equal(t, report.Run.ID, list.Runs[0].ID)

		w = do(t, s, http.MethodGet, "/api/v1/hunts/"+report.Run.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got hunt.Report
		decodeBody(t, w, &got)
		require.Len(t, got.Resolutions, 2)
		assert.Equal(t, []string{dexbuild.SampleGetToken.String()}, got.Resolutions[1].Refs)

		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/hunts/missing", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/hunts?limit=0", nil).Code)
		assert.Equal(t, http.StatusBadRequest,
			do(t, s, http.MethodPost, "/api/v1/hunts", strings.NewReader("fingerprints: []")).Code)
	})
}

func TestServer_Profiling(t *testing.T) {
	h := newHelper(t)
	off := server.NewServer(&server.Config{Helper: h})
	assert.Equal(t, http.StatusNotFound, do(t, off, http.MethodGet, "/debug/pprof/", nil).Code)

	on := server.NewServer(&server.Config{Helper: h, Profiling: true})
	assert.Equal(t, http.StatusOK, do(t, on, http.MethodGet, "/debug/pprof/", nil).Code)
}

func TestServer_Run(t *testing.T) {
	h := newHelper(t)
	s := server.NewServer(&server.Config{
		Server: &config.ServerConfig{Addr: "127.0.0.1:0"},
		Helper: h,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
