package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/model"
)

var runColumns = []string{
	"id", "digest", "source", "status", "status_info",
	"fingerprints", "resolved", "reused", "create_time", "end_time",
}

func mockDB(t *testing.T, dialect string) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true})
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestRunRepository_SQL(t *testing.T) {
	tests := []struct {
		dialect string
		table   string
		param   string
	}{
		{"postgres", `"hunt_runs"`, `\$1`},
		{"mysql", "`hunt_runs`", `\?`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			db, mock := mockDB(t, tt.dialect)
			repo := NewGormRunRepository(db)
			ctx := context.Background()

			rows := sqlmock.NewRows(runColumns).AddRow(
				"run-1", "d1", "app.apk", int(model.RunStatusCompleted), "",
				4, 3, 1, time.Now(), time.Now(),
			)
			mock.ExpectQuery(`SELECT \* FROM ` + tt.table + ` WHERE id = ` + tt.param).WillReturnRows(rows)
			run, err := repo.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusCompleted, run.Status)
			assert.Equal(t, 3, run.Resolved)

			mock.ExpectQuery(`SELECT \* FROM ` + tt.table).WillReturnError(fmt.Errorf("connection reset"))
			_, err = repo.GetRun(ctx, "run-2")
			assert.ErrorContains(t, err, "failed to get run")

			mock.ExpectExec(`UPDATE ` + tt.table + ` SET`).WillReturnResult(sqlmock.NewResult(0, 1))
			require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", model.RunStatusFailed, "boom"))

			mock.ExpectExec(`UPDATE ` + tt.table + ` SET`).WillReturnResult(sqlmock.NewResult(0, 0))
			err = repo.UpdateRunStatus(ctx, "gone", model.RunStatusFailed, "")
			assert.Equal(t, errors.CodeNotFound, errors.GetErrorCode(err))

			mock.ExpectQuery(`SELECT \* FROM ` + tt.table + ` WHERE digest = ` + tt.param + `.*ORDER BY create_time DESC`).
				WillReturnRows(sqlmock.NewRows(runColumns))
			runs, err := repo.ListRuns(ctx, "d1", 5)
			require.NoError(t, err)
			assert.Empty(t, runs)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
