package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
)

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// CreateRun inserts run.
func (r *GormRunRepository) CreateRun(ctx context.Context, run *model.Run) error {
	record := huntRunFromModel(run)
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	run.CreateTime = record.CreateTime
	return nil
}

// GetRun retrieves a run by its ID.
func (r *GormRunRepository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var record HuntRun

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf(errors.CodeNotFound, "run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return record.ToModel(), nil
}

// ListRuns returns runs newest first.
func (r *GormRunRepository) ListRuns(ctx context.Context, digest string, limit int) ([]*model.Run, error) {
	var records []HuntRun

	q := r.db.WithContext(ctx).Order("create_time DESC")
	if digest != "" {
		q = q.Where("digest = ?", digest)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*model.Run, len(records))
	for i := range records {
		runs[i] = records[i].ToModel()
	}
	return runs, nil
}

// UpdateRunStatus updates the status of a run with additional info.
func (r *GormRunRepository) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, info string) error {
	result := r.db.WithContext(ctx).
		Model(&HuntRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"status_info": info,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.Newf(errors.CodeNotFound, "run not found: %s", id)
	}
	return nil
}

// FinishRun records the outcome of run. EndTime is set to now when nil.
func (r *GormRunRepository) FinishRun(ctx context.Context, run *model.Run) error {
	if run.EndTime == nil {
		now := time.Now()
		run.EndTime = &now
	}
	result := r.db.WithContext(ctx).
		Model(&HuntRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":       run.Status,
			"status_info":  run.StatusInfo,
			"fingerprints": run.Fingerprints,
			"resolved":     run.Resolved,
			"reused":       run.Reused,
			"end_time":     run.EndTime,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.Newf(errors.CodeNotFound, "run not found: %s", run.ID)
	}
	return nil
}

// GormResolutionRepository implements ResolutionRepository using GORM.
type GormResolutionRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewGormResolutionRepository creates a new GormResolutionRepository.
func NewGormResolutionRepository(db *gorm.DB) *GormResolutionRepository {
	return &GormResolutionRepository{db: db, batchSize: 100}
}

// SaveResolutions inserts resolutions in one transaction.
func (r *GormResolutionRepository) SaveResolutions(ctx context.Context, resolutions []model.Resolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	records := make([]*HuntResolution, 0, len(resolutions))
	for i := range resolutions {
		record, err := huntResolutionFromModel(&resolutions[i])
		if err != nil {
			return fmt.Errorf("failed to marshal resolution %s: %w", resolutions[i].Name, err)
		}
		records = append(records, record)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, r.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save resolutions: %w", err)
	}
	return nil
}

// GetResolutionsByRun returns the resolutions of a run.
func (r *GormResolutionRepository) GetResolutionsByRun(ctx context.Context, runID string) ([]model.Resolution, error) {
	var records []HuntResolution

	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get resolutions: %w", err)
	}
	return toResolutions(records)
}

// LatestResolutions returns the resolutions of the newest completed run over
// digest.
func (r *GormResolutionRepository) LatestResolutions(ctx context.Context, digest string) (map[string]model.Resolution, error) {
	latest := r.db.Model(&HuntRun{}).
		Select("id").
		Where("digest = ? AND status = ?", digest, model.RunStatusCompleted).
		Order("end_time DESC").
		Limit(1)

	var records []HuntResolution
	err := r.db.WithContext(ctx).
		Where("run_id = (?)", latest).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest resolutions: %w", err)
	}

	list, err := toResolutions(records)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Resolution, len(list))
	for _, res := range list {
		out[res.Name] = res
	}
	return out, nil
}

func toResolutions(records []HuntResolution) ([]model.Resolution, error) {
	out := make([]model.Resolution, 0, len(records))
	for i := range records {
		res, err := records[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode resolution %s: %w", records[i].Name, err)
		}
		out = append(out, res)
	}
	return out, nil
}
