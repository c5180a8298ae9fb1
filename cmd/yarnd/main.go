package main

import (
	"flag"

	"github.com/matheus3301/yarning/internal/daemon"
	"github.com/matheus3301/yarning/internal/profile"
	"go.uber.org/fx"
)

func main() {
	dataFlag := flag.String("data", profile.RelayDir(), "relay data directory")
	configFlag := flag.String("config", "", "config file (default <data>/yarnd.toml)")
	listenFlag := flag.String("listen", "", "listen address, host:port or unix:///path (overrides config)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:    *dataFlag,
			ConfigPath: *configFlag,
			Listen:     *listenFlag,
		}),
	)

	app.Run()
}
