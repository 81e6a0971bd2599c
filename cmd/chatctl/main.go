package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"pairchat/internal/chatsync"
	"pairchat/internal/client"
	"pairchat/internal/domain"
	"pairchat/internal/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server  string
	token   string
	with    string
	inbox   bool
	timeout time.Duration
	verbose bool

	mint     bool
	secret   string
	userID   string
	email    string
	username string
	ttl      time.Duration
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("chatctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.server, "server", envOr("PAIRCHAT_SERVER", "http://localhost:8000"), "chat server base URL")
	flagSet.StringVar(&opts.token, "token", os.Getenv("PAIRCHAT_TOKEN"), "bearer token")
	flagSet.StringVarP(&opts.with, "with", "w", "", "open the conversation with this user id, username or email")
	flagSet.BoolVar(&opts.inbox, "inbox", false, "list conversations and exit")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "fetch and write timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log session activity to stderr")
	flagSet.BoolVar(&opts.mint, "mint", false, "print a token signed with --secret and exit")
	flagSet.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "signing secret for --mint")
	flagSet.StringVar(&opts.userID, "user-id", "", "subject of the minted token")
	flagSet.StringVar(&opts.email, "email", "", "email claim of the minted token")
	flagSet.StringVar(&opts.username, "username", "", "username hint of the minted token")
	flagSet.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "lifetime of the minted token")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if opts.mint {
		return mint(opts)
	}
	if opts.token == "" {
		return errors.New("--token or PAIRCHAT_TOKEN is required")
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(opts.server, opts.token, log)
	profile, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	caller := domain.Caller{UserID: profile.User.ID, Active: true, Profile: profile.User}

	switch {
	case opts.inbox:
		return printInbox(ctx, c, os.Stdout)
	case opts.with != "":
		return chat(ctx, c, caller, opts, log)
	default:
		return errors.New("one of --with or --inbox is required")
	}
}

func mint(opts options) error {
	if opts.secret == "" || opts.userID == "" {
		return errors.New("--mint needs --secret and --user-id")
	}
	tok, err := security.NewTokenService(opts.secret, opts.ttl).Issue(security.Identity{
		UserID:   opts.userID,
		Email:    opts.email,
		Username: opts.username,
	})
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func printInbox(ctx context.Context, c *client.Client, out io.Writer) error {
	entries, err := c.Inbox(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no conversations")
		return nil
	}
	for _, e := range entries {
		peer := "?"
		if e.Peer != nil {
			peer = e.Peer.Username
		}
		fmt.Fprintf(out, "%s  %-20s %s  %s\n", e.ConversationID, peer, e.UpdatedAt.Local().Format(time.DateTime), e.Preview)
	}
	return nil
}

func chat(ctx context.Context, c *client.Client, caller domain.Caller, opts options, log zerolog.Logger) error {
	conversationID, created, err := c.Locate(ctx, opts.with)
	if err != nil {
		return fmt.Errorf("locate conversation with %q: %w", opts.with, err)
	}
	if created {
		fmt.Printf("started a conversation with %s\n", opts.with)
	}

	session := chatsync.NewSession(caller, c, chatsync.Config{
		FetchTimeout: opts.timeout,
		WriteTimeout: opts.timeout,
		MaxRetries:   3,
	}, log)
	defer session.Close()

	view, err := session.Open(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	p := &printer{out: os.Stdout, self: caller.UserID, seen: map[int64]struct{}{}, failed: map[string]struct{}{}}
	p.render(view)
	stopWatch := watch(ctx, view, p)
	defer func() { stopWatch() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	composer := session.Composer()
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "/quit":
			return nil
		case "/retry":
			if _, err := composer.Retry(ctx, conversationID, arg); err != nil {
				p.printf("! retry %s: %v\n", arg, err)
			}
		case "/discard":
			if err := composer.Discard(conversationID, arg); err != nil {
				p.printf("! discard %s: %v\n", arg, err)
			}
		case "/image":
			if _, err := composer.Send(ctx, conversationID, domain.Draft{MediaURL: arg, Kind: domain.KindImage}); err != nil {
				reportSend(p, err)
			}
		case "/reopen":
			stopWatch()
			_ = view.Close()
			if view, err = session.Open(ctx, conversationID); err != nil {
				if view == nil {
					return err
				}
				p.printf("! reopen: %v\n", err)
			}
			p.render(view)
			stopWatch = watch(ctx, view, p)
		default:
			if _, err := composer.Send(ctx, conversationID, domain.Draft{Body: line}); err != nil {
				reportSend(p, err)
			}
		}
	}
}

// watch renders v on every change until the returned stop is called.
func watch(ctx context.Context, v *chatsync.View, p *printer) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-v.Changed():
				p.render(v)
				if v.State() == chatsync.StateError {
					p.printf("! conversation unavailable: %v (type /reopen)\n", v.Err())
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func reportSend(p *printer, err error) {
	var sendErr *chatsync.SendError
	if errors.As(err, &sendErr) {
		// Failed entries are reported by the printer with their local id.
		return
	}
	p.printf("! %v\n", err)
}

// printer writes each confirmed message once and each failed send once.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	seen   map[int64]struct{}
	failed map[string]struct{}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) render(v *chatsync.View) {
	entries := v.Messages()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		switch {
		case e.Status == chatsync.Failed:
			if _, ok := p.failed[e.LocalID]; ok {
				continue
			}
			p.failed[e.LocalID] = struct{}{}
			fmt.Fprintf(p.out, "! not sent [%s]: %v (/retry %s or /discard %s)\n", e.LocalID, e.Err, e.LocalID, e.LocalID)
		case !e.Provisional():
			if _, ok := p.seen[e.Message.ID]; ok {
				continue
			}
			p.seen[e.Message.ID] = struct{}{}
			fmt.Fprintln(p.out, p.line(e.Message))
		}
	}
}

func (p *printer) line(m domain.Message) string {
	who := "them"
	switch {
	case m.SenderID == p.self:
		who = "me"
	case m.Sender != nil && m.Sender.Username != "":
		who = m.Sender.Username
	}
	text := m.Body
	if m.Kind == domain.KindImage && m.MediaURL != nil {
		text = strings.TrimSpace(text + " [image " + *m.MediaURL + "]")
	}
	return fmt.Sprintf("%s %-8s %s", m.CreatedAt.Local().Format(time.TimeOnly), who, text)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatctl talks to a pairchat server from the terminal.

Usage:
  chatctl --with <user> [flags]   open a two-party conversation
  chatctl --inbox [flags]         list conversations
  chatctl --mint --user-id <id>   print a development token

In a conversation every line is sent as a message. Commands:
  /image <url>      send an image by URL
  /retry <local>    resend a failed message
  /discard <local>  drop a failed message
  /reopen           reopen the conversation after an error
  /quit             leave

Flags:
%s`, flagSet.FlagUsages())
}
