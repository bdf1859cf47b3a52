package local

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	root := string(filepath.Separator)
	data := filepath.Join(root, "data")
	tests := []struct {
		name    string
		baseDir string
		key     string
		want    string
		wantErr bool
	}{
		{name: "filesystem root", baseDir: root, key: "out.parquet", want: filepath.Join(root, "out.parquet")},
		{name: "nested key", baseDir: data, key: "runs/out.parquet", want: filepath.Join(data, "runs", "out.parquet")},
		{name: "sibling prefix", baseDir: data, key: "../data2/out.parquet", wantErr: true},
		{name: "parent escape", baseDir: data, key: "../etc/passwd", wantErr: true},
		{name: "base itself", baseDir: data, key: ".", wantErr: true},
		{name: "empty key", baseDir: data, key: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &BlobStore{baseDir: tt.baseDir}
			got, err := s.resolve(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
