// Command hush is the private lending console.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggoodman/hush/adapter"
	"github.com/ggoodman/hush/config"
	"github.com/ggoodman/hush/console"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/engine/rpcengine"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/identity"
	"github.com/ggoodman/hush/internal/logctx"
	"github.com/ggoodman/hush/orchestrator"
	"github.com/ggoodman/hush/sessions"
	"github.com/ggoodman/hush/wallet"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const engineCacheSize = 8

func main() {
	app := &cli.App{
		Name:   "hush",
		Usage:  "Private supply and borrow positions through a privacy engine",
		Action: runConsole,
		Commands: []*cli.Command{
			{
				Name:      "exec",
				Usage:     "Run a single console command",
				ArgsUsage: "<command...>",
				Action:    runExec,
			},
			{
				Name:  "new-seed",
				Usage: "Print a fresh recovery phrase",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "bits", Value: identity.DefaultMnemonicBits, Usage: "entropy bits (128-256)"},
				},
				Action: newSeed,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type runtime struct {
	console *console.Console
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func runConsole(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.console.Run(ctx)
}

func runExec(c *cli.Context) error {
	if c.NArg() == 0 {
		return errs.New(errs.KindInvalidInput, "usage: hush exec <command...>")
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.console.Execute(ctx, strings.Join(c.Args().Slice(), " "))
	if errors.Is(err, console.ErrExit) {
		return nil
	}
	return err
}

func newSeed(c *cli.Context) error {
	m, err := identity.NewMnemonic(c.Int("bits"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, m)
	return nil
}

func setup(ctx context.Context, interactive bool) (_ *runtime, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	log := slog.New(logctx.Handler{Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})})
	slog.SetDefault(log)

	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	key, err := walletKey(cfg)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc %s: %w", cfg.RPCURL, err)
	}
	rt.closers = append(rt.closers, eth.Close)

	eng, err := rpcengine.Dial(ctx, cfg.EngineURL, rpcengine.WithLogger(log))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, eng.Close)

	cache, err := engine.NewCache(eng, engineCacheSize, engine.WithLogger(log))
	if err != nil {
		return nil, err
	}

	backend, err := cfg.OpenStorage(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := backend.Close(); err != nil {
			log.Warn("storage.close_failed", slog.String("err", err.Error()))
		}
	})

	cipher, err := cfg.SessionCipher()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	decimals, err := cfg.Decimals()
	if err != nil {
		return nil, err
	}

	var con *console.Console
	o, err := orchestrator.New(orchestrator.Deps{
		Signer:    wallet.NewKeySigner(key, wallet.ClientChain(eth)),
		Store:     sessions.NewStore(backend, cipher, sessions.WithLogger(log)),
		Engines:   cache,
		Reader:    adapter.NewContractReader(eth),
		Addresses: cfg,
		Purger:    sessions.NewPurger(backend, log, cache.Purge),
	},
		orchestrator.WithLogger(log),
		orchestrator.WithChainID(cfg.ChainID),
		orchestrator.WithDecimals(decimals),
		orchestrator.WithFeePolicy(policy),
		orchestrator.WithFeeCalculator(cfg.FeeCalculator(log)),
		orchestrator.WithEvents(func(e orchestrator.Event) { con.Notify(e) }),
	)
	if err != nil {
		return nil, err
	}

	if cfg.OverridesFile != "" {
		wctx, cancel := context.WithCancel(ctx)
		rt.closers = append(rt.closers, cancel)
		go func() {
			err := config.Watch(wctx, cfg.OverridesFile, cfg, func(next *config.Config) {
				o.SetFeeCalculator(next.FeeCalculator(log))
				level.Set(next.Level())
			}, log)
			if err != nil {
				log.Warn("config.overrides.watch_failed", slog.String("err", err.Error()))
			}
		}()
	}

	var history string
	if interactive {
		if dir, err := cfg.Dir(); err == nil && os.MkdirAll(dir, 0o700) == nil {
			history = filepath.Join(dir, "history")
		}
	}
	con = console.New(console.Config{
		Actions:     o,
		Out:         os.Stdout,
		Decimals:    decimals,
		Logger:      log,
		Color:       interactive && term.IsTerminal(int(os.Stdout.Fd())),
		HistoryFile: history,
	})
	rt.console = con
	return rt, nil
}

// walletKey reads HUSH_WALLET_KEY, prompting on the terminal when it is
// unset.
func walletKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(cfg.WalletKey)
	if raw == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, &errs.ConfigurationError{Key: "HUSH_WALLET_KEY"}
		}
		fmt.Fprint(os.Stderr, "Wallet private key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read wallet key: %w", err)
		}
		raw = strings.TrimSpace(string(b))
	}
	key, err := wallet.ParseKey(raw)
	if err != nil {
		return nil, &errs.ConfigurationError{Key: "HUSH_WALLET_KEY", Value: "(hidden)", Reason: err.Error()}
	}
	return key, nil
}
