package hunt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/internal/storage"
	"github.com/dexhelper/pkg/model"
	"github.com/dexhelper/pkg/parallel"
	"github.com/dexhelper/pkg/utils"
	"github.com/dexhelper/pkg/writer"
)

// Options configures a Runner. Every collaborator is optional: without
// repositories nothing is reused or persisted, without an output directory no
// report is written, and without storage nothing is uploaded.
type Options struct {
	Workers     int
	OutputDir   string
	ReportExt   string // .json, .json.gz or .json.zst
	Runs        repository.RunRepository
	Resolutions repository.ResolutionRepository
	Storage     storage.Storage
	Logger      utils.Logger
	Clock       utils.Clock
}

// Report is the outcome of one run.
type Report struct {
	Run         *model.Run         `json:"run"`
	Resolutions []model.Resolution `json:"resolutions"`

	Path string `json:"-"` // local report file, if written
	URL  string `json:"-"` // uploaded report, if any
}

// Runner resolves fingerprint sets against one target.
type Runner struct {
	target Target
	opts   Options
	logger utils.Logger
	clock  utils.Clock
}

// NewRunner creates a runner over target.
func NewRunner(target Target, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ReportExt == "" {
		opts.ReportExt = ".json"
	}
	clock := opts.Clock
	if clock == nil {
		clock = utils.NewRealClock()
	}
	return &Runner{
		target: target,
		opts:   opts,
		logger: utils.OrNull(opts.Logger),
		clock:  clock,
	}
}

// Run resolves every fingerprint in set. Resolutions stored for the latest
// completed run over the same image set are reused when the fingerprint's
// query key is unchanged and the earlier resolution had no error.
func (r *Runner) Run(ctx context.Context, source string, set *Set) (*Report, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	digest, err := r.target.Digest()
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:           uuid.NewString(),
		Digest:       digest,
		Source:       source,
		Status:       model.RunStatusRunning,
		Fingerprints: len(set.Fingerprints),
		CreateTime:   r.clock.Now(),
	}
	logger := r.logger.WithField("run", run.ID)
	logger.Info("Starting hunt of %d fingerprints over %s", run.Fingerprints, short(digest))

	if r.opts.Runs != nil {
		if err := r.opts.Runs.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	}

	resolutions, err := r.resolveAll(ctx, run, set, logger)
	if err != nil {
		r.fail(ctx, run, err, logger)
		return nil, err
	}

	for i := range resolutions {
		resolutions[i].RunID = run.ID
		resolutions[i].Digest = digest
		if resolutions[i].Reused {
			run.Reused++
		}
		if resolutions[i].Unique() {
			run.Resolved++
		}
	}

	if r.opts.Resolutions != nil {
		if err := r.opts.Resolutions.SaveResolutions(ctx, resolutions); err != nil {
			r.fail(ctx, run, err, logger)
			return nil, fmt.Errorf("failed to save resolutions: %w", err)
		}
	}

	end := r.clock.Now()
	run.Status = model.RunStatusCompleted
	run.EndTime = &end
	if r.opts.Runs != nil {
		if err := r.opts.Runs.FinishRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to finish run: %w", err)
		}
	}

	report := &Report{Run: run, Resolutions: resolutions}
	if err := r.export(ctx, report, logger); err != nil {
		logger.Warn("Failed to export report: %v", err)
	}

	logger.Info("Hunt completed: %d/%d unique, %d reused", run.Resolved, run.Fingerprints, run.Reused)
	return report, nil
}

func (r *Runner) resolveAll(ctx context.Context, run *model.Run, set *Set, logger utils.Logger) ([]model.Resolution, error) {
	var prior map[string]model.Resolution
	if r.opts.Resolutions != nil {
		var err error
		prior, err = r.opts.Resolutions.LatestResolutions(ctx, run.Digest)
		if err != nil {
			return nil, fmt.Errorf("failed to load previous resolutions: %w", err)
		}
	}

	tracker := parallel.NewProgressTracker(int64(len(set.Fingerprints)), func(done, total int64) {
		logger.Debug("Resolved %d/%d fingerprints", done, total)
	}, time.Second)
	tracker.Start(ctx)
	defer tracker.Stop()

	pool := parallel.NewPool[*Fingerprint, model.Resolution](r.opts.Workers)

	inputs := make([]*Fingerprint, len(set.Fingerprints))
	for i := range set.Fingerprints {
		inputs[i] = &set.Fingerprints[i]
	}

	results := pool.Map(ctx, inputs, func(ctx context.Context, fp *Fingerprint) (model.Resolution, error) {
		defer tracker.Increment()
		if old, ok := prior[fp.Name]; ok && old.QueryKey == fp.Key() && old.Error == "" {
			old.Reused = true
			return old, nil
		}
		return Resolve(ctx, r.target, fp)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Resolution, len(results))
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", res.Input.Name, res.Err)
		}
		out[i] = res.Value
	}
	return out, nil
}

func (r *Runner) fail(ctx context.Context, run *model.Run, cause error, logger utils.Logger) {
	logger.Error("Hunt failed: %v", cause)
	if r.opts.Runs == nil {
		return
	}
	end := r.clock.Now()
	run.Status = model.RunStatusFailed
	run.StatusInfo = cause.Error()
	run.EndTime = &end
	// The caller's ctx may be the reason for the failure.
	if err := r.opts.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Failed to record run failure: %v", err)
	}
}

// export writes the report locally and uploads it when storage is set.
func (r *Runner) export(ctx context.Context, report *Report, logger utils.Logger) error {
	if r.opts.OutputDir == "" {
		return nil
	}
	name := report.Run.ID + r.opts.ReportExt
	path := filepath.Join(r.opts.OutputDir, name)
	w := writer.ForPath[*Report](path)
	if cw, ok := w.(*writer.CompressedWriter[*Report]); ok {
		stats, err := cw.WriteToFileWithStats(report, path)
		if err != nil {
			return err
		}
		logger.Info("Report written to %s (%d -> %d bytes, %.1f%%)", path,
			stats.JSONSize, stats.CompressedSize, stats.CompressionPct)
	} else {
		if err := w.WriteToFile(report, path); err != nil {
			return err
		}
		logger.Info("Report written to %s", path)
	}
	report.Path = path

	if r.opts.Storage == nil {
		return nil
	}
	key := filepath.ToSlash(filepath.Join("hunts", report.Run.Digest, name))
	if err := r.opts.Storage.UploadFile(ctx, key, path); err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	report.URL = r.opts.Storage.GetURL(key)
	return nil
}

// LoadReport reads a report written by a Runner, compressed or not.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return decodeReport(data)
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
