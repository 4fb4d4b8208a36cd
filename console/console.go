// Package console is the interactive front end. Every command runs through
// Execute; a failing command prints its error and the session continues.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/internal/logctx"
	"github.com/ggoodman/hush/ledger"
	"github.com/ggoodman/hush/orchestrator"
	"github.com/google/uuid"
	"github.com/peterh/liner"
)

// Actions is the orchestrator surface the console drives.
type Actions interface {
	Login(ctx context.Context) (*orchestrator.LoginResult, error)
	Import(ctx context.Context, mnemonic string) (*orchestrator.LoginResult, error)
	Logout(ctx context.Context) error
	Forget(ctx context.Context) error
	Status(ctx context.Context) (*orchestrator.Status, error)
	Supply(ctx context.Context, amount *big.Int) (*orchestrator.Result, error)
	Withdraw(ctx context.Context, req orchestrator.PositionAction) (*orchestrator.Result, error)
	Borrow(ctx context.Context, req orchestrator.PositionAction) (*orchestrator.Result, error)
	Repay(ctx context.Context, req orchestrator.PositionAction) (*orchestrator.Result, error)
	Shield(ctx context.Context, amount *big.Int) (*orchestrator.Result, error)
	Unshield(ctx context.Context, amount *big.Int, recipient common.Address) (*orchestrator.Result, error)
	Balance(ctx context.Context) (*orchestrator.Balances, error)
	Positions(ctx context.Context) ([]orchestrator.PositionView, error)
	PositionAuth(ctx context.Context, id uint64, secret *ledger.Secret) (*orchestrator.AuthView, error)
}

var _ Actions = (*orchestrator.Orchestrator)(nil)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit")

type Config struct {
	Actions  Actions
	Out      io.Writer
	Decimals orchestrator.Decimals
	Logger   *slog.Logger
	// Color enables ANSI colors.
	Color bool
	// HistoryFile persists the prompt history when set.
	HistoryFile string
}

type palette struct {
	ok, warn, muted, fail, title *color.Color
}

type Console struct {
	actions  Actions
	out      io.Writer
	decimals orchestrator.Decimals
	log      *slog.Logger
	history  string
	p        palette
	commands map[string]*command
	aliases  map[string]string
}

// New returns a console. Out defaults to stdout.
func New(cfg Config) *Console {
	c := &Console{
		actions:  cfg.Actions,
		out:      cfg.Out,
		decimals: cfg.Decimals,
		log:      cfg.Logger,
		history:  cfg.HistoryFile,
		p: palette{
			ok:    color.New(color.FgGreen),
			warn:  color.New(color.FgYellow),
			muted: color.New(color.FgHiBlack),
			fail:  color.New(color.FgRed),
			title: color.New(color.FgCyan, color.Bold),
		},
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if !cfg.Color {
		for _, col := range []*color.Color{c.p.ok, c.p.warn, c.p.muted, c.p.fail, c.p.title} {
			col.DisableColor()
		}
	}
	c.register()
	return c
}

// Notify prints an orchestrator event as a muted note.
func (c *Console) Notify(e orchestrator.Event) {
	c.p.muted.Fprintf(c.out, "  %s\n", e.Message)
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if target, ok := c.aliases[name]; ok {
		name = target
	}
	cmd, ok := c.commands[name]
	if !ok {
		return errs.New(errs.KindInvalidInput, "Unknown command: %s. Type 'help' or 'get-started'", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return errs.New(errs.KindInvalidInput, "usage: %s", cmd.usage)
	}

	ctx = logctx.WithCommandData(ctx, &logctx.CommandData{CommandID: uuid.NewString(), Name: name})
	c.log.DebugContext(ctx, "console.command")
	return cmd.run(ctx, args)
}

// Run reads commands until exit, EOF or interrupt.
func (c *Console) Run(ctx context.Context) error {
	c.Banner()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(c.complete)
	if c.history != "" {
		if f, err := os.Open(c.history); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
		defer c.saveHistory(line)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("hush> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "import") {
			line.AppendHistory(input)
		}

		err = c.Execute(ctx, input)
		if errors.Is(err, ErrExit) {
			return nil
		}
		if err != nil {
			c.p.fail.Fprintf(c.out, "Error: %s\n", err)
		}
	}
}

func (c *Console) saveHistory(line *liner.State) {
	f, err := os.OpenFile(c.history, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		c.log.Debug("console.history.save_failed", slog.String("err", err.Error()))
		return
	}
	defer func() {
		_ = f.Close()
	}()
	_, _ = line.WriteHistory(f)
}

func (c *Console) complete(line string) []string {
	var out []string
	prefix := strings.ToLower(line)
	for name := range c.commands {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Banner prints the title.
func (c *Console) Banner() {
	c.p.title.Fprintln(c.out, figure.NewFigure("Hush", "small", true).String())
	c.p.muted.Fprintln(c.out, "Private lending sessions. Type 'get-started' for a walkthrough or 'help' for commands.")
}
