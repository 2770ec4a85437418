package ledger

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "artifacts.tar.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return path
}

func TestExtractBundle(t *testing.T) {
	bundle := writeBundle(t, map[string]string{
		"contracts/HashStratDAOTokenFarm.sol/HashStratDAOTokenFarm.json": farmArtifactJSON,
		"../escape.json": "{}",
	})
	dest := t.TempDir()

	require.NoError(t, ExtractBundle(bundle, dest))

	arts, err := LoadArtifacts(dest, "HashStratDAOTokenFarm")
	require.NoError(t, err)
	art, err := arts.Get("HashStratDAOTokenFarm")
	require.NoError(t, err)
	assert.Contains(t, art.ABI().Methods, "addLPToken")

	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractBundle_NotZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	require.NoError(t, os.WriteFile(path, []byte("not a bundle"), 0o644))

	assert.Error(t, ExtractBundle(path, t.TempDir()))
}

func TestExtractBundle_Missing(t *testing.T) {
	err := ExtractBundle(filepath.Join(t.TempDir(), "nope.tar.zst"), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open bundle")
}
