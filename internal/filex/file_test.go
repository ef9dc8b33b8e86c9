package filex

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_CreatesRelativeDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir("staging")
	require.NoError(t, err)

	want := filepath.Join(tmp, "staging")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}
}

func TestEnsureDir_AbsoluteAndIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)

	require.Equal(t, dir, first)
	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("staging", []byte("x"), 0o600))

	_, err := EnsureDir("staging")
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestShred_ZeroesContent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "secret")
	content := strings.Repeat("ACGT", 20_000)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	require.NoError(t, Shred(p))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Len(t, got, len(content))
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestShredTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stage-1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.vcf"), []byte("#CHROM"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "out.json"), []byte("{}"), 0o600))

	require.NoError(t, ShredTree(dir))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, ShredTree(dir), "missing dir is not an error")
}

type failAfter struct{ n int }

func (f *failAfter) Read(p []byte) (int, error) {
	if f.n == 0 {
		return 0, errors.New("boom")
	}
	f.n--
	p[0] = 'x'
	return 1, nil
}

func TestCopyToFile(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "ok")
	n, err := CopyToFile(p, strings.NewReader("hello"), 0o600)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	_, err = CopyToFile(p, strings.NewReader("again"), 0o600)
	require.Error(t, err, "existing file must not be overwritten")

	bad := filepath.Join(dir, "bad")
	_, err = CopyToFile(bad, &failAfter{n: 3}, 0o600)
	require.Error(t, err)
	_, err = os.Stat(bad)
	require.True(t, os.IsNotExist(err))
}
