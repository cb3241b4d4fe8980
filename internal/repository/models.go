package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/dexhelper/pkg/model"
)

// HuntRun represents the hunt_runs table.
type HuntRun struct {
	ID           string          `gorm:"column:id;type:varchar(64);primaryKey"`
	Digest       string          `gorm:"column:digest;type:varchar(64);index"`
	Source       string          `gorm:"column:source;type:text"`
	Status       model.RunStatus `gorm:"column:status;index"`
	StatusInfo   string          `gorm:"column:status_info;type:text"`
	Fingerprints int             `gorm:"column:fingerprints"`
	Resolved     int             `gorm:"column:resolved"`
	Reused       int             `gorm:"column:reused"`
	CreateTime   time.Time       `gorm:"column:create_time;autoCreateTime"`
	EndTime      *time.Time      `gorm:"column:end_time"`
}

// TableName returns the table name for HuntRun.
func (HuntRun) TableName() string {
	return "hunt_runs"
}

func huntRunFromModel(r *model.Run) *HuntRun {
	return &HuntRun{
		ID:           r.ID,
		Digest:       r.Digest,
		Source:       r.Source,
		Status:       r.Status,
		StatusInfo:   r.StatusInfo,
		Fingerprints: r.Fingerprints,
		Resolved:     r.Resolved,
		Reused:       r.Reused,
		CreateTime:   r.CreateTime,
		EndTime:      r.EndTime,
	}
}

// ToModel converts HuntRun to model.Run.
func (r *HuntRun) ToModel() *model.Run {
	return &model.Run{
		ID:           r.ID,
		Digest:       r.Digest,
		Source:       r.Source,
		Status:       r.Status,
		StatusInfo:   r.StatusInfo,
		Fingerprints: r.Fingerprints,
		Resolved:     r.Resolved,
		Reused:       r.Reused,
		CreateTime:   r.CreateTime,
		EndTime:      r.EndTime,
	}
}

// HuntResolution represents the hunt_resolutions table.
type HuntResolution struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;type:varchar(64);uniqueIndex:idx_run_name"`
	Digest    string    `gorm:"column:digest;type:varchar(64);index"`
	Name      string    `gorm:"column:name;type:varchar(255);uniqueIndex:idx_run_name"`
	QueryKey  string    `gorm:"column:query_key;type:text"`
	Kind      string    `gorm:"column:kind;type:varchar(16)"`
	Handles   JSONField `gorm:"column:handles;type:json"`
	Refs      JSONField `gorm:"column:refs;type:json"`
	Error     string    `gorm:"column:error;type:text"`
	Reused    bool      `gorm:"column:reused"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for HuntResolution.
func (HuntResolution) TableName() string {
	return "hunt_resolutions"
}

func huntResolutionFromModel(r *model.Resolution) (*HuntResolution, error) {
	handles, err := json.Marshal(r.Handles)
	if err != nil {
		return nil, err
	}
	refs, err := json.Marshal(r.Refs)
	if err != nil {
		return nil, err
	}
	return &HuntResolution{
		RunID:    r.RunID,
		Digest:   r.Digest,
		Name:     r.Name,
		QueryKey: r.QueryKey,
		Kind:     string(r.Kind),
		Handles:  handles,
		Refs:     refs,
		Error:    r.Error,
		Reused:   r.Reused,
	}, nil
}

// ToModel converts HuntResolution to model.Resolution.
func (r *HuntResolution) ToModel() (model.Resolution, error) {
	res := model.Resolution{
		RunID:    r.RunID,
		Digest:   r.Digest,
		Name:     r.Name,
		QueryKey: r.QueryKey,
		Kind:     model.Kind(r.Kind),
		Error:    r.Error,
		Reused:   r.Reused,
	}
	if r.Handles != nil {
		if err := json.Unmarshal(r.Handles, &res.Handles); err != nil {
			return res, err
		}
	}
	if r.Refs != nil {
		if err := json.Unmarshal(r.Refs, &res.Refs); err != nil {
			return res, err
		}
	}
	return res, nil
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
