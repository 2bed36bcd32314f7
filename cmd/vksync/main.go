// vksync runs the session daemon and the terminal UI in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/config"
	"github.com/matheus3301/vksync/internal/conn"
	"github.com/matheus3301/vksync/internal/daemon"
	"github.com/matheus3301/vksync/internal/session"
	"github.com/matheus3301/vksync/internal/status"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("vksync", pflag.ExitOnError)
	sessionFlag := flags.StringP("session", "s", "", "session name (overrides config default)")
	configFlag := flags.StringP("config", "c", "", "config file (default ~/.vksync/config.toml)")
	debugFlag := flags.Bool("debug", false, "log at debug level")
	_ = flags.Parse(os.Args[1:])

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}

	var (
		c       *conn.Conn
		db      *store.DB
		prompt  *captcha.Prompt
		b       *bus.Bus
		machine *status.Machine
		cfg     *config.Config
		logger  *zap.Logger
	)
	app := fx.New(
		// Logs go to the session log file only; the terminal belongs to the UI.
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Binary:      "vksync",
			ConfigPath:  *configFlag,
			Debug:       *debugFlag,
		}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&c, &db, &prompt, &b, &machine, &cfg, &logger),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start session %q: %w", sessionName, err)
	}

	ui := tui.NewApp(tui.Deps{
		Session: sessionName,
		SelfID:  cfg.Account.UserID,
		Conn:    c,
		DB:      db,
		Prompt:  prompt,
		Bus:     b,
		Machine: machine,
		Logger:  logger,
	})
	go func() {
		// SIGINT/SIGTERM while the UI owns the terminal.
		<-app.Done()
		ui.Stop()
	}()
	runErr := ui.Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}
