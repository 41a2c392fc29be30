package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedExportDB(t *testing.T, path string) {
	t.Helper()
	store, err := storage.NewStorage(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, rec := range []*model.PageRecord{
		{ID: "1", URL: "http://www.example.cz/", IsOpen: true, Domain: "example.cz", Attempts: 1},
		{ID: "2", URL: "http://idnes.cz", IsOpen: true, Domain: "idnes.cz", Attempts: 1},
		{ID: "3", URL: "http://shop.example.cz/", IsOpen: true, Domain: "example.cz", Attempts: 1},
		{ID: "4", URL: "http://seznam.cz", IsOpen: false, ErrorMsg: "connection refused", Attempts: 4},
	} {
		require.NoError(t, store.Emit(ctx, rec))
	}

	from, err := store.UpsertDomain("example.cz", "")
	require.NoError(t, err)
	to, err := store.UpsertDomain("idnes.cz", "example.cz")
	require.NoError(t, err)
	require.NoError(t, store.AddEdgeWeight(from, to, 2))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestExportCmd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "surveyor.db")
	seedExportDB(t, dbPath)
	outDir := filepath.Join(dir, "results")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"export", "--db", dbPath, "--out", outDir, "--edges"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "2 live, 1 dead, 1 edges")

	assert.Equal(t, []string{"example.cz", "idnes.cz"}, readLines(t, filepath.Join(outDir, liveWebsFile)))

	dead := readLines(t, filepath.Join(outDir, deadWebsFile))
	require.Len(t, dead, 1)
	var rec model.PageRecord
	require.NoError(t, json.Unmarshal([]byte(dead[0]), &rec))
	assert.Equal(t, "http://seznam.cz", rec.URL)
	assert.Equal(t, "connection refused", rec.ErrorMsg)
	assert.Equal(t, 4, rec.Attempts)

	assert.Equal(t, []string{"example.cz\tidnes.cz\t2"}, readLines(t, filepath.Join(outDir, domainEdgeFile)))
}

func TestExportCmdWithoutEdges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "surveyor.db")
	seedExportDB(t, dbPath)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", "--db", dbPath, "--out", dir})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.FileExists(t, filepath.Join(dir, liveWebsFile))
	assert.NoFileExists(t, filepath.Join(dir, domainEdgeFile))
}

func TestExportCmdMissingDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", "--db", filepath.Join(dir, "absent.db"), "--out", dir})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.NoFileExists(t, filepath.Join(dir, "absent.db"), "export never creates a database")
}

func TestSplitRecords(t *testing.T) {
	t.Parallel()

	live, dead := splitRecords([]*model.PageRecord{
		{IsOpen: true, Domain: "a.cz"},
		{IsOpen: true},
		{IsOpen: false, URL: "http://b.cz"},
		{IsOpen: true, Domain: "a.cz"},
	})
	assert.Equal(t, []string{"a.cz"}, live)
	require.Len(t, dead, 1)
	assert.Equal(t, "http://b.cz", dead[0].URL)
}
