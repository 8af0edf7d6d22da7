package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/export"
	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/storage"
)

func steady(n int) []motion.Sample {
	rec := make([]motion.Sample, n)
	for i := range rec {
		rec[i] = motion.Sample{
			Timestamp:     int64(1000 + 100*i),
			Accelerometer: motion.Reading{Z: 9.81},
		}
	}
	return rec
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, export.WriteCombined(f, steady(60)))
	require.NoError(t, f.Close())

	out, err := run(t, "analyze", "--json", path)
	require.NoError(t, err)

	var res balance.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, balance.StatusNormal, res.Status)
	assert.Equal(t, 60, res.Features.Samples)

	out, err = run(t, "analyze", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:            normal (none)")
	assert.Contains(t, out, "Stability:         100.0%")
}

func TestAnalyzeCSV_Errors(t *testing.T) {
	_, err := run(t, "analyze", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "analyze")
	assert.Error(t, err)
}

func TestSessionsCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "balance.db")
	db, err := storage.NewDB(dbPath)
	require.NoError(t, err)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := db.SaveSession(context.Background(), storage.Meta{Name: "bench", StartedAt: start}, steady(55), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := run(t, "sessions", "--db", dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "bench")

	out, err = run(t, "sessions", "--db", dbPath, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "55 samples")
	assert.Contains(t, out, "normal")

	out, err = run(t, "sessions", "--db", dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "100.0", "show stores the computed analysis")

	out, err = run(t, "sessions", "--db", dbPath, "export", "--kind", "accelerometer", id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Timestamp,X,Y,Z\n1000,0.0000,0.0000,9.8100\n"))

	_, err = run(t, "sessions", "--db", dbPath, "delete", id)
	require.NoError(t, err)
	_, err = run(t, "sessions", "--db", dbPath, "show", id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
