package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dexhelper/internal/callgraph"
	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
)

const maxHuntLimit = 100

func (s *Server) addRoutes(rg *gin.RouterGroup) {
	rg.GET("/_ping", s.ping)
	rg.GET("/stats", s.stats)

	find := rg.Group("/find")
	find.POST("", s.find)
	find.GET("/string", s.findString)

	rg.GET("/decode/:kind/:handle", s.decode)
	rg.GET("/xref", s.xref)

	hunts := rg.Group("/hunts")
	hunts.GET("", s.listHunts)
	hunts.GET("/:id", s.getHunt)
	hunts.POST("", s.startHunt)
}

// ping answers OK while the hunt database, when configured, is reachable.
func (s *Server) ping(c *gin.Context) {
	if s.conf.Repos != nil {
		if err := s.conf.Repos.HealthCheck(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "database unavailable: %v", err)
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

// abort maps err onto a status code and writes it as {"error": ...}.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.GetErrorCode(err) {
	case errors.CodeInvalidInput, errors.CodeConfigError:
		status = http.StatusBadRequest
	case errors.CodeHandleNotFound, errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeClosed:
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// JSON numbers lose precision past 2^53, which any handle of dex 2 or
// later exceeds. Responses carry a 0x-prefixed copy that decode accepts.
func hexHandle(raw uint64) string {
	return "0x" + strconv.FormatUint(raw, 16)
}

func hexHandles(hs []uint64) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = hexHandle(h)
	}
	return out
}

type findResponse struct {
	model.Resolution
	HandlesHex []string `json:"handles_hex"`
}

func (s *Server) stats(c *gin.Context) {
	h := s.conf.Helper
	digest, err := h.Digest()
	if err != nil {
		abort(c, err)
		return
	}
	stats, err := h.Stats()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source": s.conf.Source,
		"digest": digest,
		"dexes":  stats,
	})
}

// find resolves one ad hoc fingerprint posted as JSON.
func (s *Server) find(c *gin.Context) {
	var fp hunt.Fingerprint
	if err := c.ShouldBindJSON(&fp); err != nil {
		badRequest(c, err.Error())
		return
	}
	if fp.Name == "" {
		fp.Name = "adhoc"
	}
	if err := fp.Validate(); err != nil {
		abort(c, err)
		return
	}
	res, err := hunt.Resolve(c.Request.Context(), s.conf.Helper, &fp)
	if err != nil {
		abort(c, err)
		return
	}
	if res.Error != "" {
		badRequest(c, res.Error)
		return
	}
	c.JSON(http.StatusOK, findResponse{Resolution: res, HandlesHex: hexHandles(res.Handles)})
}

func (s *Server) findString(c *gin.Context) {
	str := c.Query("s")
	prefix, _ := strconv.ParseBool(c.DefaultQuery("prefix", "false"))
	if str == "" && !prefix {
		badRequest(c, "query parameter s is required")
		return
	}
	fp := hunt.Fingerprint{Name: "string", String: str, Prefix: prefix}
	res, err := hunt.Resolve(c.Request.Context(), s.conf.Helper, &fp)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"methods":     res.Refs,
		"handles":     res.Handles,
		"handles_hex": hexHandles(res.Handles),
	})
}

func (s *Server) decode(c *gin.Context) {
	raw, err := strconv.ParseUint(c.Param("handle"), 0, 64)
	if err != nil {
		badRequest(c, "invalid handle: "+c.Param("handle"))
		return
	}
	h := s.conf.Helper

	var ref string
	switch kind := c.Param("kind"); kind {
	case "method":
		r, err := h.DecodeMethod(dexhelper.MethodHandle(raw))
		if err != nil {
			abort(c, err)
			return
		}
		ref = r.String()
	case "field":
		r, err := h.DecodeField(dexhelper.FieldHandle(raw))
		if err != nil {
			abort(c, err)
			return
		}
		ref = r.String()
	case "class":
		r, err := h.DecodeClass(dexhelper.ClassHandle(raw))
		if err != nil {
			abort(c, err)
			return
		}
		ref = r.String()
	default:
		badRequest(c, "unknown kind: "+kind)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handle": raw, "handle_hex": hexHandle(raw), "ref": ref})
}

func (s *Server) xref(c *gin.Context) {
	method := c.Query("method")
	if method == "" {
		badRequest(c, "query parameter method is required")
		return
	}
	ref, err := dexhelper.ParseMethodRef(method)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	dir, err := callgraph.ParseDirection(c.Query("direction"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	opts := callgraph.DefaultGeneratorOptions()
	opts.Direction = dir
	if v := c.Query("depth"); v != "" {
		if opts.MaxDepth, err = strconv.Atoi(v); err != nil || opts.MaxDepth < 0 {
			badRequest(c, "invalid depth: "+v)
			return
		}
	}
	if v := c.Query("max_nodes"); v != "" {
		if opts.MaxNodes, err = strconv.Atoi(v); err != nil || opts.MaxNodes <= 0 {
			badRequest(c, "invalid max_nodes: "+v)
			return
		}
	}

	root, err := s.conf.Helper.EncodeMethod(ref)
	if err != nil {
		abort(c, err)
		return
	}
	cg, err := callgraph.NewGenerator(s.conf.Helper, opts).Generate(c.Request.Context(), root)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, cg)
}

func (s *Server) listHunts(c *gin.Context) {
	if s.conf.Repos == nil {
		unavailable(c)
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit: "+v)
			return
		}
		limit = min(n, maxHuntLimit)
	}
	runs, err := s.conf.Repos.Run.ListRuns(c.Request.Context(), c.Query("digest"), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getHunt(c *gin.Context) {
	if s.conf.Repos == nil {
		unavailable(c)
		return
	}
	ctx := c.Request.Context()
	run, err := s.conf.Repos.Run.GetRun(ctx, c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	resolutions, err := s.conf.Repos.Resolution.GetResolutionsByRun(ctx, run.ID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, hunt.Report{Run: run, Resolutions: resolutions})
}

// startHunt runs a YAML fingerprint set synchronously and returns the report.
func (s *Server) startHunt(c *gin.Context) {
	if s.conf.Runner == nil {
		unavailable(c)
		return
	}
	set, err := hunt.Parse(c.Request.Body)
	if err != nil {
		abort(c, err)
		return
	}
	report, err := s.conf.Runner.Run(c.Request.Context(), s.conf.Source, set)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func unavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "hunt storage is not configured"})
}
