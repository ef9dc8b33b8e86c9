package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fasta = ">chr1\nACGTACGTACGTNNNN\n>chr2\nTTTTGGGGCCCCAAAA\n"

type env struct {
	dir  string
	base []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{
		dir: dir,
		base: []string{
			"-d", filepath.Join(dir, "gv.db"),
			"-f", filepath.Join(dir, "blobs"),
			"-S", filepath.Join(dir, "staging"),
			"-k", strings.Repeat("4f", 32),
			"-l", "error",
		},
	}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append(append([]string{}, e.base...), args...)
	code := Run(context.Background(), full, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (e *env) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func storedID(t *testing.T, out string) string {
	t.Helper()
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.GreaterOrEqual(t, len(fields), 5, out)
	return fields[0]
}

func TestRun_Lifecycle(t *testing.T) {
	e := newEnv(t)
	src := e.writeFile(t, "chr1.fa", fasta)

	code, out, stderr := e.run(t, "", "store", "-owner", "alice", src)
	require.Equal(t, ExitOK, code, stderr)
	id := storedID(t, out)
	assert.Contains(t, out, "fasta")
	assert.Contains(t, out, "sealed")

	code, out, _ = e.run(t, "", "list", "-owner", "alice")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "chr1.fa")

	code, out, _ = e.run(t, "", "fetch", "-owner", "alice", id)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, fasta, out)

	dst := filepath.Join(e.dir, "restored.fa")
	code, _, _ = e.run(t, "", "fetch", "-owner", "alice", "-o", dst, id)
	require.Equal(t, ExitOK, code)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, fasta, string(b))

	code, _, _ = e.run(t, "", "fetch", "-owner", "mallory", id)
	assert.Equal(t, ExitError, code)

	code, _, stderr = e.run(t, "", "delete", "-owner", "alice", id)
	require.Equal(t, ExitOK, code, stderr)

	code, out, _ = e.run(t, "", "ledger", "-owner", "alice")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, id)

	code, out, _ = e.run(t, "", "prune")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "pruned 0 ledger entries\n", out)
}

func TestRun_StoreFromStdin(t *testing.T) {
	e := newEnv(t)

	code, _, _ := e.run(t, fasta, "store", "-owner", "alice", "-")
	assert.Equal(t, ExitUsage, code)

	code, out, stderr := e.run(t, fasta, "store", "-owner", "alice", "-name", "piped.fasta", "-")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "piped.fasta")
}

func TestRun_ValidationFailure(t *testing.T) {
	e := newEnv(t)
	src := e.writeFile(t, "calls.vcf", fasta)

	code, _, stderr := e.run(t, "", "store", "-owner", "alice", src)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "validation")
}

func TestRun_TamperedBlob(t *testing.T) {
	e := newEnv(t)
	src := e.writeFile(t, "chr1.fa", fasta)

	code, out, _ := e.run(t, "", "store", "-owner", "alice", src)
	require.Equal(t, ExitOK, code)
	id := storedID(t, out)

	var blobs []string
	require.NoError(t, filepath.Walk(filepath.Join(e.dir, "blobs"), func(p string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			blobs = append(blobs, p)
		}
		return err
	}))
	require.Len(t, blobs, 1)
	b, err := os.ReadFile(blobs[0])
	require.NoError(t, err)
	b[len(b)/2] ^= 0x01
	require.NoError(t, os.WriteFile(blobs[0], b, 0o600))

	code, out, stderr := e.run(t, "", "fetch", "-owner", "alice", id)
	assert.Equal(t, ExitIntegrity, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "INTEGRITY FAILURE")
}

func TestRun_Analyze(t *testing.T) {
	e := newEnv(t)
	script := filepath.Join(e.dir, "count.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf '{\"bytes\": %d}' \"$(wc -c < \"$1\")\"\n"), 0o755))
	e.base = append(e.base, "-A", script)

	src := e.writeFile(t, "chr1.fa", fasta)
	code, out, _ := e.run(t, "", "store", "-owner", "alice", src)
	require.Equal(t, ExitOK, code)
	id := storedID(t, out)

	code, out, stderr := e.run(t, "", "analyze", "-owner", "alice", id)
	require.Equal(t, ExitOK, code, stderr)

	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, len(fasta), got["bytes"])

	entries, err := os.ReadDir(filepath.Join(e.dir, "staging"))
	require.NoError(t, err)
	for _, en := range entries {
		assert.False(t, strings.HasPrefix(en.Name(), "stage-"), "leftover %s", en.Name())
	}
}

func stageDirs(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []string
	for _, en := range entries {
		if strings.HasPrefix(en.Name(), "stage-") {
			out = append(out, en.Name())
		}
	}
	return out
}

func TestRun_StartupSweepRemovesStalePlaintext(t *testing.T) {
	e := newEnv(t)
	root := filepath.Join(e.dir, "staging")

	crashed := filepath.Join(root, "stage-crashed")
	require.NoError(t, os.MkdirAll(crashed, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(crashed, "input.fasta"), []byte(fasta), 0o600))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(crashed, old, old))

	fresh := filepath.Join(root, "stage-running")
	require.NoError(t, os.MkdirAll(fresh, 0o700))

	code, _, stderr := e.run(t, "", "list", "-owner", "alice")
	require.Equal(t, ExitOK, code, stderr)

	_, err := os.Stat(crashed)
	assert.True(t, os.IsNotExist(err), "stale staging dir survived a CLI start")
	assert.Equal(t, []string{"stage-running"}, stageDirs(t, root))
}

func TestRun_AnalyzeCancelledCleansUp(t *testing.T) {
	e := newEnv(t)
	script := filepath.Join(e.dir, "slow.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	e.base = append(e.base, "-A", script)

	src := e.writeFile(t, "chr1.fa", fasta)
	code, out, _ := e.run(t, "", "store", "-owner", "alice", src)
	require.Equal(t, ExitOK, code)
	id := storedID(t, out)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	var stdout, stderr bytes.Buffer
	args := append(append([]string{}, e.base...), "analyze", "-owner", "alice", id)
	code = Run(ctx, args, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr.String(), "context canceled")
	assert.Empty(t, stageDirs(t, filepath.Join(e.dir, "staging")))
}

func TestNotifyContext(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestRun_Passphrase(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) { return []byte("correct horse"), nil }

	e := newEnv(t)
	e.base = e.base[:len(e.base)-4] // drop -k and -l
	cfgPath := e.writeFile(t, "gv.json", `{"master_key_salt":"lab-7","log_level":"error"}`)
	e.base = append(e.base, "-c", cfgPath)

	code, out, stderr := e.run(t, "", "mode")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "sealed\n", out)
	assert.Contains(t, stderr, "passphrase")
}

func TestRun_DegradedMode(t *testing.T) {
	e := newEnv(t)
	e.base = e.base[:len(e.base)-4]
	e.base = append(e.base, "-l", "error")

	code, out, _ := e.run(t, "", "mode")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "degraded\n", out)
}

func TestRun_RejectPlainKeysInSealedMode(t *testing.T) {
	e := newEnv(t)
	sealed := append([]string{}, e.base...)

	e.base = append(e.base[:len(e.base)-4:len(e.base)-4], "-l", "error")
	src := e.writeFile(t, "chr1.fa", fasta)
	code, out, _ := e.run(t, "", "store", "-owner", "alice", src)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "plain")
	id := storedID(t, out)

	e.base = sealed
	code, out, _ = e.run(t, "", "fetch", "-owner", "alice", id)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, fasta, out)

	strict := e.writeFile(t, "strict.json", `{"reject_plain_keys":true}`)
	e.base = append(sealed, "-c", strict)
	code, out, stderr := e.run(t, "", "fetch", "-owner", "alice", id)
	assert.Equal(t, ExitIntegrity, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "plain key rejected")
}

func TestRun_Usage(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, ExitUsage},
		{"unknown command", []string{"frobnicate"}, ExitUsage},
		{"missing owner", []string{"list"}, ExitUsage},
		{"missing file id", []string{"fetch", "-owner", "alice"}, ExitUsage},
		{"unknown flag", []string{"mode", "-verbose"}, ExitUsage},
		{"bad config", []string{"-B", "tape", "mode"}, ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := e.run(t, "", tt.args...)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCommandIndex(t *testing.T) {
	assert.Equal(t, 2, commandIndex([]string{"-d", "store", "store"}))
	assert.Equal(t, 1, commandIndex([]string{"-k=abc", "mode"}))
	assert.Equal(t, -1, commandIndex([]string{"-d", "x.db"}))
	assert.Equal(t, -1, commandIndex([]string{"nope", "mode"}))
}
