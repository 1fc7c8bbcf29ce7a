package activitylog

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZipEntry(t *testing.T, zr *zip.Reader, name string) []byte {
	t.Helper()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return b
	}
	t.Fatalf("zip entry %s missing", name)
	return nil
}

func TestBuildArchive(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	logs := []ArchivedLog{
		{ID: 1, ActorID: 3, ActorType: "staff", Action: "CREATE", Resource: "courses", CreatedAt: now.AddDate(0, 0, -40)},
		{ID: 2, ActorID: 9, ActorType: "student", Action: "UPDATE", Resource: "student", ResourceID: 9,
			Details: map[string]any{"note": `said "hi", left`}, CreatedAt: now.AddDate(0, 0, -35)},
	}

	buf, err := BuildArchive(logs, "activity_logs_2026-01-30.zip", now)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var payload struct {
		RecordCount int           `json:"record_count"`
		Logs        []ArchivedLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(readZipEntry(t, zr, "activity_logs.json"), &payload))
	assert.Equal(t, 2, payload.RecordCount)
	assert.Equal(t, "courses", payload.Logs[0].Resource)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(readZipEntry(t, zr, "metadata.json"), &meta))
	assert.Equal(t, "activity_logs_2026-01-30.zip", meta["file_name"])
	assert.Contains(t, meta, "date_range")

	records, err := csv.NewReader(bytes.NewReader(readZipEntry(t, zr, "activity_logs.csv"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Actor Type", records[0][2])
	assert.Equal(t, `{"note":"said \"hi\", left"}`, records[2][9])
}

func TestToArchivedDecodesDetails(t *testing.T) {
	out := ToArchived(models.ActivityLog{Action: "DELETE", Details: models.JSON(`{"path":"/api/admin/users/4"}`)})
	assert.Equal(t, "/api/admin/users/4", out.Details["path"])

	out = ToArchived(models.ActivityLog{Details: models.JSON("null")})
	assert.Nil(t, out.Details)
}

func TestArchiveOldLogsRejectsYoungCutoff(t *testing.T) {
	s := NewService(nil, nil, nil)
	_, err := s.ArchiveOldLogs(context.Background(), 3)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestFlushWithoutRedisIsNoop(t *testing.T) {
	s := NewService(nil, nil, nil)
	n, err := s.FlushCachedLogs(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
