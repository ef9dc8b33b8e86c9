// Package analysis runs external analysis programs against staged
// plaintext files.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/metrics"
)

// InputPlaceholder in Command is replaced by the input path. Without it the
// path is appended as the last argument.
const InputPlaceholder = "{input}"

const (
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 8 << 20
)

type Result struct {
	Output   json.RawMessage
	Stderr   string
	Duration time.Duration
}

type Runner struct {
	Command   []string
	Timeout   time.Duration
	MaxOutput int64
}

func (r *Runner) args(input string) []string {
	out := make([]string, 0, len(r.Command)+1)
	replaced := false
	for _, a := range r.Command[1:] {
		if strings.Contains(a, InputPlaceholder) {
			a = strings.ReplaceAll(a, InputPlaceholder, input)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, input)
	}
	return out
}

// Run executes the analyzer on inputPath. The process must exit zero and
// print exactly one JSON value on stdout; anything else, including empty
// output, fails with common.ErrAnalysisOutputInvalid. Timeout or
// cancellation returns the context error.
func (r *Runner) Run(ctx context.Context, inputPath string) (*Result, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("analysis: no command configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command[0], r.args(inputPath)...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: limit}
	cmd.Stderr = &limitedWriter{w: &stderr, n: 64 << 10}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	metrics.AnalysisSeconds.Observe(elapsed.Seconds())

	if cerr := ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("analysis: %s: %w", r.Command[0], cerr)
	}
	diag := strings.TrimSpace(stderr.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: exit status %d: %s", common.ErrAnalysisOutputInvalid, exitErr.ExitCode(), diag)
		}
		if cmd.ProcessState != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrAnalysisOutputInvalid, err)
		}
		return nil, fmt.Errorf("analysis: start %s: %w", r.Command[0], err)
	}

	out, err := parseSingleJSON(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAnalysisOutputInvalid, err)
	}
	return &Result{Output: out, Stderr: diag, Duration: elapsed}, nil
}

func parseSingleJSON(b []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse output: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after result")
	}
	return v, nil
}

// limitedWriter fails once more than n bytes were written.
type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.n {
		return 0, errors.New("output limit exceeded")
	}
	l.n -= int64(len(p))
	return l.w.Write(p)
}
