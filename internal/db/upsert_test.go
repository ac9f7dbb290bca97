package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scheduleUpsert = UpsertConfig{
	Table:        "schedules",
	Columns:      []string{"id", "doses_per_week"},
	ConflictKeys: []string{"id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, scheduleUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "schedules",
		ConflictKeys: []string{"id"},
	}, [][]any{{"schedule1", 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "schedules",
		Columns: []string{"id", "doses_per_week"},
	}, [][]any{{"schedule1", 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_schedules"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_schedules"}, []string{"id", "doses_per_week"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "schedules"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, scheduleUpsert, [][]any{{"schedule1", 7}, {"schedule2", 14}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_schedules"}, []string{"id", "doses_per_week"}).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, scheduleUpsert, [][]any{{"schedule1", 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for schedules")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL(scheduleUpsert, "_tmp")
	assert.Equal(t,
		`INSERT INTO "schedules" ("id", "doses_per_week") SELECT "id", "doses_per_week" FROM "_tmp" ON CONFLICT ("id") DO UPDATE SET "doses_per_week" = EXCLUDED."doses_per_week"`,
		got)

	keysOnly := UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Contains(t, upsertSQL(keysOnly, "_tmp"), "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"episodes", `"episodes"`},
		{"tb.episodes", `"tb"."episodes"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "schedule_id", "schedule_start"`, quoteAndJoin([]string{"id", "schedule_id", "schedule_start"}))
}
