package datafetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeGzip(t *testing.T, path, body string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestStage(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	downloadDir := filepath.Join(tmpDir, "download")
	tempDir := filepath.Join(tmpDir, "staging")
	vcfDir := filepath.Join(tmpDir, "vcf")
	require.NoError(t, os.MkdirAll(filepath.Join(downloadDir, "supporting"), 0775))

	writeGzip(t, filepath.Join(downloadDir, "a.vcf.gz"), "variants of a")
	writeGzip(t, filepath.Join(downloadDir, "supporting", "b.vcf.gz"), "variants of b")
	writeGzip(t, filepath.Join(downloadDir, "notes.txt.gz"), "not a call set")
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "c.vcf"), []byte("variants of c"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "index.tbi"), []byte{0x1, 0x2}, 0644))

	ctx := context.Background()
	require.NoError(t, Stage(ctx, downloadDir, tempDir, vcfDir))

	for name, want := range map[string]string{
		"a.vcf": "variants of a",
		"b.vcf": "variants of b",
		"c.vcf": "variants of c",
	} {
		got, err := os.ReadFile(filepath.Join(vcfDir, name))
		require.NoError(t, err)
		if string(got) != want {
			t.Errorf("%v: got %q, want %q", name, got, want)
		}
	}
	// Only .vcf outputs reach the source dir, and the staging area is
	// gone afterwards.
	entries, err := os.ReadDir(vcfDir)
	require.NoError(t, err)
	if got, want := len(entries), 3; got != want {
		t.Errorf("got %d staged files, want %d", got, want)
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Errorf("staging dir survived: %v", err)
	}
}

func TestStageEmptyDownloadDir(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	vcfDir := filepath.Join(tmpDir, "vcf")
	err := Stage(context.Background(), filepath.Join(tmpDir, "absent"), filepath.Join(tmpDir, "staging"), vcfDir)
	require.NoError(t, err)
	entries, err := os.ReadDir(vcfDir)
	require.NoError(t, err)
	if got, want := len(entries), 0; got != want {
		t.Errorf("got %d files, want %d", got, want)
	}
}

func TestStageCorruptGzip(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	downloadDir := filepath.Join(tmpDir, "download")
	require.NoError(t, os.MkdirAll(downloadDir, 0775))
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "bad.vcf.gz"), []byte("plainly not gzip"), 0644))
	err := Stage(context.Background(), downloadDir, filepath.Join(tmpDir, "staging"), filepath.Join(tmpDir, "vcf"))
	if err == nil {
		t.Error("expected error for corrupt gzip input")
	}
}
