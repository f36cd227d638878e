package capture

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenRequiresDatabase(t *testing.T) {
	_, err := Open("", zap.NewNop())
	assert.Error(t, err)
}

func TestRecordPersistsRequests(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "req.db")

	c, err := Open(dbFile, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Record("job-1", "GET", "https://example.com/a?x=1", "/a", "example.com", ""))
	require.NoError(t, c.Record("job-2", "POST", "https://example.com/b", "/b", "example.com", "payload"))
	require.NoError(t, c.Close())

	db, err := sql.Open("sqlite3", dbFile)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT job_id, request FROM requests ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		jobID string
		req   record
	}
	var got []row
	for rows.Next() {
		var r row
		var raw string
		require.NoError(t, rows.Scan(&r.jobID, &raw))
		require.NoError(t, json.Unmarshal([]byte(raw), &r.req))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, "job-1", got[0].jobID)
	assert.Equal(t, "GET", got[0].req.Method)
	assert.Equal(t, "example.com", got[0].req.Host)
	assert.Equal(t, "job-2", got[1].jobID)
	assert.Equal(t, "payload", got[1].req.Body)
}
