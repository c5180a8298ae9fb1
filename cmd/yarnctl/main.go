package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/yarning/internal/auth"
	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/client"
	"github.com/matheus3301/yarning/internal/config"
	"github.com/matheus3301/yarning/internal/logging"
	"github.com/matheus3301/yarning/internal/profile"
	"github.com/matheus3301/yarning/internal/transport"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

type options struct {
	profile  string
	relay    string
	token    string
	data     string
	json     bool
	limit    int
	before   int64
	beforeID string
	timeout  time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.profile, "profile", "", "profile name (overrides config default)")
	flag.StringVar(&o.relay, "relay", "", "relay address (overrides profile)")
	flag.StringVar(&o.token, "token", "", "bearer token (overrides profile)")
	flag.StringVar(&o.data, "data", profile.RelayDir(), "relay data directory, read by the token command")
	flag.BoolVar(&o.json, "json", false, "output in JSON format")
	flag.IntVar(&o.limit, "limit", 50, "page size for list and history")
	flag.Int64Var(&o.before, "before", 0, "history: only messages created before this unix ms")
	flag.StringVar(&o.beforeID, "before-id", "", "history: with --before, also page past older ids of that same ms")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "timeout for one-shot commands")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	name := profile.Resolve(o.profile)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	if args[0] == "token" {
		cmdToken(name, o, args[1:])
		return
	}

	prof, err := profile.Load(name)
	if err != nil {
		fatal(fmt.Errorf("load profile %q: %w", name, err))
	}
	if o.relay != "" {
		prof.Relay = o.relay
	}
	if o.token != "" {
		prof.Token = o.token
	}
	if prof.Relay == "" {
		fatal(fmt.Errorf("profile %q has no relay address; run: yarnctl --profile %s token <user>", name, name))
	}

	logger, err := logging.NewFile(profile.LogPath(name), "yarnctl")
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	token := client.StaticToken(prof.Token)
	conn, err := transport.Dial(prof.Relay, token)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = conn.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{opts: o, conn: conn, token: token, logger: logger}

	switch args[0] {
	case "conversations":
		if len(args) < 2 {
			fatal(errors.New("usage: yarnctl conversations <create|list>"))
		}
		switch args[1] {
		case "create":
			err = c.createConversation(ctx, args[2:])
		case "list":
			err = c.listConversations(ctx)
		default:
			err = fmt.Errorf("unknown conversations subcommand: %s", args[1])
		}
	case "history":
		err = c.history(ctx, args[1:])
	case "send":
		err = c.send(ctx, args[1:])
	case "watch":
		err = c.watch(ctx, args[1:])
	case "presence":
		err = c.presence(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: yarnctl [--profile <name>] [--relay <addr>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  token <user> [name]               Mint a token with the relay secret and save it to the profile")
	fmt.Fprintln(os.Stderr, "  conversations create <user>...    Create (or find) a conversation")
	fmt.Fprintln(os.Stderr, "  conversations list                List conversations, most recent first")
	fmt.Fprintln(os.Stderr, "  history <conversation>            Show persisted messages")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>        Send a message and wait for the acknowledgement")
	fmt.Fprintln(os.Stderr, "  watch [conversation]              Stream events until interrupted")
	fmt.Fprintln(os.Stderr, "  presence <user>...                Show what the relay reports about users")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// cmdToken mints a credential with the relay's own secret. It needs read
// access to the relay's yarnd.toml or YARNING_JWT_SECRET.
func cmdToken(name string, o options, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: yarnctl token <user> [name]"))
	}
	userID := args[0]
	userName := userID
	if len(args) > 1 {
		userName = strings.Join(args[1:], " ")
	}

	cfg, err := config.LoadRelay(profile.RelayConfigPath(o.data))
	if err != nil {
		fatal(err)
	}
	token, expires, err := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenTTL).GenerateToken(userID, userName)
	if err != nil {
		fatal(err)
	}

	if err := profile.EnsureDir(name); err != nil {
		fatal(err)
	}
	prof, err := profile.Load(name)
	if err != nil {
		fatal(err)
	}
	switch {
	case o.relay != "":
		prof.Relay = o.relay
	case prof.Relay == "":
		prof.Relay = cfg.Listen
	}
	prof.Token = token
	prof.UserID = userID
	if err := profile.Save(name, prof); err != nil {
		fatal(err)
	}

	if o.json {
		outputJSON(map[string]any{
			"profile":   name,
			"relay":     prof.Relay,
			"userId":    userID,
			"token":     token,
			"expiresAt": expires.UTC().Format(time.RFC3339),
		})
		return
	}
	fmt.Printf("Profile: %s\n", name)
	fmt.Printf("Relay:   %s\n", prof.Relay)
	fmt.Printf("User:    %s (%s)\n", userID, userName)
	fmt.Printf("Expires: %s\n", expires.Local().Format(time.RFC1123))
}

type cli struct {
	opts   options
	conn   *transport.Conn
	token  client.TokenSource
	logger *zap.Logger
}

func (c *cli) oneShot(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.timeout)
}

func (c *cli) createConversation(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return errors.New("usage: yarnctl conversations create <user>...")
	}
	ctx, cancel := c.oneShot(ctx)
	defer cancel()

	resp, err := c.conn.CreateConversation(ctx, users)
	if err != nil {
		return err
	}
	if c.opts.json {
		outputJSON(resp)
		return nil
	}
	verb := "Found"
	if resp.Created {
		verb = "Created"
	}
	fmt.Printf("%s %s (%s)\n", verb, resp.Conversation.ID, strings.Join(resp.Conversation.ParticipantIDs, ", "))
	return nil
}

func (c *cli) listConversations(ctx context.Context) error {
	ctx, cancel := c.oneShot(ctx)
	defer cancel()

	convs, err := c.conn.ListConversations(ctx, c.opts.limit)
	if err != nil {
		return err
	}
	if c.opts.json {
		outputJSON(convs)
		return nil
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, conv := range convs {
		fmt.Printf("%-38s %-16s %s\n", conv.ID, formatMillis(conv.LastMessageAt), strings.Join(conv.ParticipantIDs, ", "))
	}
	return nil
}

func (c *cli) history(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: yarnctl history <conversation>")
	}
	ctx, cancel := c.oneShot(ctx)
	defer cancel()

	resp, err := c.conn.ListMessages(ctx, &wire.ListMessagesRequest{
		ConversationID: args[0],
		Before:         c.opts.before,
		BeforeID:       c.opts.beforeID,
		Limit:          c.opts.limit,
	})
	if err != nil {
		return err
	}
	if c.opts.json {
		outputJSON(resp)
		return nil
	}
	for _, m := range resp.Messages {
		fmt.Printf("%s %-12s %-9s %s\n", formatMillis(m.CreatedAt), m.SenderID, m.Status, m.Content)
	}
	if resp.HasMore && len(resp.Messages) > 0 {
		oldest := resp.Messages[0]
		fmt.Printf("(more: --before %d --before-id %s)\n", oldest.CreatedAt, oldest.ID)
	}
	return nil
}

// manager connects a client manager for commands that need a channel.
func (c *cli) manager(ctx context.Context) (*client.Manager, error) {
	mgr := client.New(client.Options{
		Transport: c.conn,
		Token:     c.token,
		History:   c.conn,
		Logger:    c.logger.Named("client"),
	})
	cctx, cancel := c.oneShot(ctx)
	defer cancel()
	if err := mgr.Connect(cctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (c *cli) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: yarnctl send <conversation> <text>")
	}
	conv, text := args[0], strings.Join(args[1:], " ")

	mgr, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	events, unsub := mgr.Bus().Subscribe("conversation.", 64)
	defer unsub()

	if err := mgr.JoinConversation(conv); err != nil {
		return err
	}
	clientID, err := mgr.SendMessage(conv, text)
	if err != nil {
		return err
	}

	ctx, cancel := c.oneShot(ctx)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no acknowledgement for %s: %w", clientID, ctx.Err())
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case client.MessageFailed:
				if p.ClientID == clientID {
					return p.Err
				}
			case client.MessagesChanged:
				if m, ok := findSent(mgr, conv, clientID); ok {
					if c.opts.json {
						outputJSON(m)
					} else {
						fmt.Printf("Sent %s\n", m.ID)
					}
					return nil
				}
			}
		}
	}
}

func findSent(mgr *client.Manager, conv, clientID string) (wire.Message, bool) {
	for _, m := range mgr.Messages(conv) {
		if m.ClientID == clientID && !m.Pending() {
			return wire.Message{
				ID:             m.ID,
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
				Content:        m.Content,
				Type:           m.Type,
				CreatedAt:      m.CreatedAt,
				ClientID:       m.ClientID,
				Status:         m.Status,
			}, true
		}
	}
	return wire.Message{}, false
}

func (c *cli) watch(ctx context.Context, args []string) error {
	mgr, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	events, unsub := mgr.Bus().Subscribe("", 256)
	defer unsub()

	if len(args) > 0 {
		if err := mgr.JoinConversation(args[0]); err != nil {
			return err
		}
		if _, err := mgr.LoadHistory(ctx, args[0], wire.Cursor{}, c.opts.limit); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			c.printEvent(mgr, evt)
		}
	}
}

func (c *cli) printEvent(mgr *client.Manager, evt bus.Event) {
	if c.opts.json {
		outputJSON(map[string]any{
			"kind":    evt.Kind,
			"at":      evt.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload": evt.Payload,
		})
		return
	}

	ts := evt.Timestamp.Local().Format("15:04:05")
	switch p := evt.Payload.(type) {
	case client.MessagesChanged:
		msgs := mgr.Messages(p.ConversationID)
		if len(msgs) == 0 {
			fmt.Printf("%s %s %s (empty)\n", ts, evt.Kind, p.ConversationID)
			return
		}
		last := msgs[len(msgs)-1]
		fmt.Printf("%s %s %s last=%s from=%s status=%s %q\n", ts, evt.Kind, p.ConversationID, last.ID, last.SenderID, last.Status, last.Content)
	case client.PresenceChanged:
		state := "offline"
		switch {
		case !p.Known:
			state = "unknown"
		case p.Entry.Online:
			state = "online"
		}
		fmt.Printf("%s %s %s %s\n", ts, evt.Kind, p.UserID, state)
	case client.TypingChanged:
		ids := make([]string, 0, len(p.Users))
		for _, u := range p.Users {
			ids = append(ids, u.UserID)
		}
		fmt.Printf("%s %s %s [%s]\n", ts, evt.Kind, p.ConversationID, strings.Join(ids, ", "))
	default:
		fmt.Printf("%s %s %+v\n", ts, evt.Kind, evt.Payload)
	}
}

func (c *cli) presence(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return errors.New("usage: yarnctl presence <user>...")
	}
	mgr, err := c.manager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	// Online peers arrive right after the identity confirmation.
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	entries := mgr.PresenceOf(users)
	if c.opts.json {
		out := make(map[string]any, len(users))
		for _, u := range users {
			e, ok := entries[u]
			out[u] = map[string]any{"known": ok, "online": e.Online, "lastSeen": e.LastSeen}
		}
		outputJSON(out)
		return nil
	}
	for _, u := range users {
		e, ok := entries[u]
		switch {
		case !ok:
			fmt.Printf("%-16s unknown\n", u)
		case e.Online:
			fmt.Printf("%-16s online\n", u)
		case !e.LastSeen.IsZero():
			fmt.Printf("%-16s offline, last seen %s\n", u, e.LastSeen.Local().Format(time.RFC1123))
		default:
			fmt.Printf("%-16s offline\n", u)
		}
	}
	return nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
