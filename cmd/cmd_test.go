package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// The root command writes the --config flag into a package variable, so
// these tests do not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "-p", "0001234-25.2023.1.00.0000, 123456789")
	require.NoError(t, err)
	assert.Contains(t, out, "valid:   1")
	assert.Contains(t, out, "invalid: 1")
	assert.Contains(t, out, "- 123456789")
}

func TestValidateCommandFailsWithoutValidNumbers(t *testing.T) {
	_, err := execute(t, "validate", "-p", "123,456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid identifiers")
}

func TestValidateCommandTruncatesInvalidList(t *testing.T) {
	out, err := execute(t, "validate", "-p", "1,2,3,4,5,6,7,0001234-25.2023.1.00.0000")
	require.NoError(t, err)
	assert.Contains(t, out, "... and 2 more")
	assert.NotContains(t, out, "- 7")
}

func TestAnalyzeCommand(t *testing.T) {
	msg := "portal returned status 404"
	rows := []store.Row{
		{Identifier: "00012342520231000000", ExtractedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339Nano), Success: true, Source: "http", Class: "ADI", FullText: "abcd", TextLength: 4},
		{Identifier: "12345677820221000000", ExtractedAt: time.Date(2024, 1, 2, 3, 5, 0, 0, time.UTC).Format(time.RFC3339Nano), ErrorMessage: &msg, ErrorKind: "http_status"},
	}
	data, err := store.EncodeRows(rows)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dossiers.parquet")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := execute(t, "analyze", path)
	require.NoError(t, err)
	assert.Contains(t, out, "records:     2 (2 unique, 0 duplicates)")
	assert.Contains(t, out, "successful:  1 (50.0%)")
	assert.Contains(t, out, "http_status")

	out, err = execute(t, "analyze", "--json", path)
	require.NoError(t, err)
	var analysis store.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	assert.Equal(t, 2, analysis.TotalRecords)
	assert.Equal(t, 1, analysis.Classes["ADI"])
}

func TestAnalyzeCommandMissingFile(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "absent.parquet"))
	require.Error(t, err)
}

func TestScrapeCommandRequiresProcesses(t *testing.T) {
	_, err := execute(t, "scrape", "-o", "memory://bucket/out.parquet")
	require.Error(t, err)
}

func TestScrapeCommandRejectsInvalidList(t *testing.T) {
	out, err := execute(t, "scrape", "-p", "123,456", "-o", "memory://bucket/out.parquet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid identifiers")
	assert.Contains(t, out, "2 requested, 0 valid, 2 invalid")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2*1024*1024))
}
