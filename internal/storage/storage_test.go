package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Location
	}{
		{
			name: "gcs nested",
			raw:  "gs://bucket/runs/2024/out.parquet",
			want: Location{Scheme: SchemeGCS, Bucket: "bucket", Dir: "runs/2024", Name: "out.parquet"},
		},
		{
			name: "s3 root",
			raw:  "s3://data-lake/dossiers.parquet",
			want: Location{Scheme: SchemeS3, Bucket: "data-lake", Name: "dossiers.parquet"},
		},
		{
			name: "memory",
			raw:  "memory://test/out.parquet",
			want: Location{Scheme: SchemeMemory, Bucket: "test", Name: "out.parquet"},
		},
		{
			name: "absolute file",
			raw:  "/tmp/out/dossiers.parquet",
			want: Location{Scheme: SchemeFile, Bucket: "/tmp/out", Name: "dossiers.parquet"},
		},
		{
			name: "file url",
			raw:  "file:///var/data/x.parquet",
			want: Location{Scheme: SchemeFile, Bucket: "/var/data", Name: "x.parquet"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLocation(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseLocationRelativeFile(t *testing.T) {
	t.Parallel()

	got, err := ParseLocation("out.parquet")
	require.NoError(t, err)
	require.Equal(t, SchemeFile, got.Scheme)
	require.True(t, filepath.IsAbs(got.Bucket))
	require.Equal(t, "out", got.Stem())
}

func TestParseLocationErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://host/x", "gs://bucket", "s3://bucket/dir/", "gs:///x.parquet"} {
		_, err := ParseLocation(raw)
		require.Error(t, err, raw)
	}
}

func TestLocationKeyAndString(t *testing.T) {
	t.Parallel()

	loc := Location{Scheme: SchemeS3, Bucket: "b", Dir: "runs", Name: "out.parquet"}
	require.Equal(t, "runs/out_checkpoint.json", loc.Key(loc.Stem()+"_checkpoint.json"))
	require.Equal(t, "s3://b/runs/out.parquet", loc.String())

	flat := Location{Scheme: SchemeGCS, Bucket: "b", Name: "out.parquet"}
	require.Equal(t, "out.parquet", flat.Key("out.parquet"))
}
