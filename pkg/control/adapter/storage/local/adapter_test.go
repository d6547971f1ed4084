package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage/local"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

func TestLocalAdapter_RoundTrip(t *testing.T) {
	base := filepath.Join(t.TempDir(), "archive")
	conn, err := local.NewLocalAdapter(config.StorageConfig{Type: "local", BaseDir: base, BucketName: "plant"}, "archive")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, conn.Upload(ctx, "", "audit/2024/05/01.parquet", strings.NewReader("a"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "historian/TIC-101.parquet", strings.NewReader("bb"), "application/octet-stream"))
	_, err = os.Stat(filepath.Join(base, "plant", "audit", "2024", "05", "01.parquet"))
	require.NoError(t, err)

	r, err := conn.Download(ctx, "", "historian/TIC-101.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "bb", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "", func(n string) error {
		names = append(names, n)
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"audit/2024/05/01.parquet", "historian/TIC-101.parquet"}, names)

	names = nil
	require.NoError(t, conn.ListObjects(ctx, "", "audit/", func(n string) error {
		names = append(names, n)
		return nil
	}))
	assert.Equal(t, []string{"audit/2024/05/01.parquet"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "", "audit/2024/05/01.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "audit/2024/05/01.parquet"), "deleting twice is not an error")
	_, err = conn.Download(ctx, "", "audit/2024/05/01.parquet")
	assert.Error(t, err)
}

func TestLocalAdapter_RejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewLocalAdapter(config.StorageConfig{Type: "local", BaseDir: t.TempDir()}, "archive")
	require.NoError(t, err)

	err = conn.Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestLocalAdapter_BaseDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := local.NewLocalAdapter(config.StorageConfig{Type: "local", BaseDir: file}, "archive")
	assert.ErrorContains(t, err, "is not a directory")
}

func TestResolver(t *testing.T) {
	r := storage.NewResolver(map[string]config.StorageConfig{
		"archive": {Type: "local", BaseDir: t.TempDir()},
		"cloud":   {Type: "gcs", BucketName: "b"},
	}, local.NewProvider())
	ctx := context.Background()

	c1, err := r.Resolve(ctx, "archive")
	require.NoError(t, err)
	c2, err := r.Resolve(ctx, "archive")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "local", c1.Type())

	_, err = r.Resolve(ctx, "cloud")
	assert.ErrorContains(t, err, "no storage provider found for type 'gcs'")
	_, err = r.Resolve(ctx, "missing")
	assert.ErrorContains(t, err, "not found in configuration")

	assert.NoError(t, r.CloseAll())
}
