// Package cli implements genevault-cli, a one-shot command runner over the
// same components the daemon uses.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/ledger"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server"
	"github.com/dmitrijs2005/genevault/internal/server/config"
	"github.com/dmitrijs2005/genevault/internal/server/services"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitUsage     = 2
	ExitIntegrity = 3
)

type backend interface {
	Files() *services.FileService
	Ledger() *ledger.Ledger
	Prepare(ctx context.Context) error
	Mode() cryptox.Mode
	Close() error
}

var newBackend = func(ctx context.Context, c *config.Config, log logging.Logger, passphrase []byte) (backend, error) {
	return server.NewApp(ctx, c, log, passphrase)
}

type command struct {
	usage string
	run   func(ctx context.Context, a *App, args []string) error
}

var commands = map[string]command{
	"store":   {"store -owner ID <file>", runStore},
	"fetch":   {"fetch -owner ID [-o path] <file-id>", runFetch},
	"delete":  {"delete -owner ID <file-id>", runDelete},
	"analyze": {"analyze -owner ID <file-id>", runAnalyze},
	"list":    {"list -owner ID", runList},
	"ledger":  {"ledger [-owner ID] [-limit N]", runLedger},
	"sweep":   {"sweep", runSweep},
	"prune":   {"prune", runPrune},
	"mode":    {"mode", runMode},
}

type App struct {
	backend backend
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM, so a
// running command unwinds through its cleanup instead of dying mid-way.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Run executes one command. args is the command line without the program
// name: configuration flags first, then the command and its own arguments.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	idx := commandIndex(args)
	if idx < 0 {
		printUsage(errOut)
		return ExitUsage
	}
	name := args[idx]
	cmd := commands[name]

	cfg, err := config.Load(args[:idx], os.Getenv)
	if err != nil {
		fmt.Fprintln(errOut, "configuration error:", err)
		return ExitUsage
	}

	logger, err := logging.New(errOut, "text", cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(errOut, "configuration error:", err)
		return ExitUsage
	}

	var passphrase []byte
	if strings.TrimSpace(cfg.MasterKeyHex) == "" && cfg.MasterKeySalt != "" {
		passphrase, err = GetPassphrase(errOut)
		if err != nil {
			fmt.Fprintln(errOut, "error reading passphrase:", err)
			return ExitError
		}
		defer common.WipeByteArray(passphrase)
	}

	b, err := newBackend(ctx, cfg, logger, passphrase)
	if err != nil {
		fmt.Fprintln(errOut, "startup error:", err)
		return ExitError
	}
	defer b.Close()

	// Plaintext left by an interrupted analyze must not outlive the next start.
	if name != "sweep" {
		if err := b.Prepare(ctx); err != nil {
			logger.Warn(ctx, "startup sweep incomplete", "error", err)
		}
	}

	a := &App{backend: b, in: in, out: out, errOut: errOut}
	if err := cmd.run(ctx, a, args[idx+1:]); err != nil {
		return a.report(name, err)
	}
	return ExitOK
}

func (a *App) report(name string, err error) int {
	var ue usageError
	switch {
	case errors.As(err, &ue):
		fmt.Fprintf(a.errOut, "%s\nusage: genevault-cli [config flags] %s\n", err, commands[name].usage)
		return ExitUsage
	case common.IsIntegrityError(err):
		fmt.Fprintf(a.errOut, "%s: INTEGRITY FAILURE: %s\n", name, err)
		return ExitIntegrity
	default:
		fmt.Fprintf(a.errOut, "%s: %s\n", name, err)
		return ExitError
	}
}

// commandIndex finds the first argument naming a command. Values of
// configuration flags are skipped so a DSN can never be taken for a command.
func commandIndex(args []string) int {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
			continue
		}
		if _, ok := commands[arg]; ok {
			return i
		}
		return -1
	}
	return -1
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: genevault-cli [-c config.json] [config flags] <command> [args]")
	fmt.Fprintln(w, "commands:")
	for _, n := range names {
		fmt.Fprintln(w, "  "+commands[n].usage)
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }
