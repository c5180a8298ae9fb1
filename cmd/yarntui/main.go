package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/yarning/internal/client"
	"github.com/matheus3301/yarning/internal/logging"
	"github.com/matheus3301/yarning/internal/profile"
	"github.com/matheus3301/yarning/internal/transport"
	"github.com/matheus3301/yarning/internal/tui"
	"github.com/matheus3301/yarning/internal/tui/model"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	relayFlag := flag.String("relay", "", "relay address (overrides profile)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	prof, err := profile.Load(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load profile %q: %v\n", name, err)
		os.Exit(1)
	}
	if *relayFlag != "" {
		prof.Relay = *relayFlag
	}
	if prof.Relay == "" || prof.Token == "" {
		fmt.Fprintf(os.Stderr, "profile %q has no relay or token; run: yarnctl --profile %s token <user>\n", name, name)
		os.Exit(1)
	}

	// The terminal belongs to tview, so logs only go to the file.
	logger, err := logging.NewFile(profile.LogPath(name), "yarntui")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	token := client.StaticToken(prof.Token)
	conn, err := transport.Dial(prof.Relay, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	mgr := client.New(client.Options{
		Transport: conn,
		Token:     token,
		History:   conn,
		Logger:    logger.Named("client"),
	})
	defer mgr.Disconnect()

	app := tui.NewApp(model.NewViewModel(mgr, conn), name, logger.Named("tui"))
	if err := app.Run(); err != nil {
		logger.Error("tui exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
