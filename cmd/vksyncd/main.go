// vksyncd is the headless session daemon: it keeps the roster and message
// log of one vk.com account in sync and reports its health over a Unix
// socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/daemon"
	"github.com/matheus3301/vksync/internal/session"
)

func main() {
	flags := pflag.NewFlagSet("vksyncd", pflag.ExitOnError)
	sessionFlag := flags.StringP("session", "s", "", "session name (overrides config default)")
	configFlag := flags.StringP("config", "c", "", "config file (default ~/.vksync/config.toml)")
	debugFlag := flags.Bool("debug", false, "log at debug level")
	_ = flags.Parse(os.Args[1:])

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Binary:      "vksyncd",
			ConfigPath:  *configFlag,
			Console:     os.Stderr,
			Debug:       *debugFlag,
		}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}
