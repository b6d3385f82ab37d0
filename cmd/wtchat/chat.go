package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/wingchat/internal/api"
	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/config"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

var errQuit = errors.New("quit")

const chatHelp = `commands:
  /attach <path> [text]  send text with a file attached
  /title <title>         rename the session
  /open <session-id>     switch to another session
  /new                   start a new session
  /delete                delete this session
  /quit                  exit
anything else is sent as a message; "/image <prompt>" asks for an image`

func chatCmd() *cobra.Command {
	var sessionFlag string
	var modelFlag string
	var providerFlag string
	var agentFlag string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := resolveToken(cfg.Auth.Token)
			if err != nil {
				return err
			}
			if modelFlag != "" {
				cfg.Session.Model = modelFlag
			}
			if providerFlag != "" {
				cfg.Session.Provider = providerFlag
			}

			svc := api.NewClient(cfg.Server.APIURL, token)
			conn := ws.NewConn(cfg.ChatURL())
			conn.AuthGrace = cfg.Connection.AuthGrace.Std()
			conn.WriteTimeout = cfg.Connection.WriteTimeout.Std()
			mgr := chat.NewManager(svc, conn, managerOptions(cfg, token))
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			sess := &chatSession{
				mgr: mgr,
				out: out,
				r:   newRenderer(out),
				req: chat.CreateSessionRequest{
					ModelID:  cfg.Session.Model,
					Provider: cfg.Session.Provider,
					AgentID:  agentFlag,
				},
			}
			unsub := mgr.Subscribe(sess.r.handle)
			defer unsub()

			if sessionFlag != "" {
				err = sess.open(ctx, sessionFlag)
			} else {
				err = sess.create(ctx)
			}
			// Transport failures were already printed; the manager keeps
			// retrying the socket.
			if err := quiet(err); err != nil {
				return err
			}
			fmt.Fprintln(out, `type a message, or /help`)

			return sess.repl(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "open an existing session instead of creating one")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model for new sessions (default: session.model)")
	cmd.Flags().StringVar(&providerFlag, "provider", "", "provider for new sessions (default: session.provider)")
	cmd.Flags().StringVar(&agentFlag, "agent", "", "agent id for new sessions")

	return cmd
}

func managerOptions(cfg *config.Config, token string) chat.Options {
	return chat.Options{
		Credential:           token,
		DefaultTitle:         cfg.Session.DefaultTitle,
		TitlePollDelay:       cfg.Session.TitlePollDelay.Std(),
		TitlePollMaxMessages: cfg.Session.TitlePollMaxMessages,
		ReconnectAttempts:    cfg.Connection.ReconnectAttempts,
		ReconnectBase:        cfg.Connection.ReconnectBase.Std(),
		ReconnectMax:         cfg.Connection.ReconnectMax.Std(),
		RequestTimeout:       cfg.Connection.RequestTimeout.Std(),
	}
}

// resolveToken returns the configured credential or prompts for one when
// stdin is a terminal.
func resolveToken(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no credential: set auth.token or WTCHAT_TOKEN")
	}
	fmt.Fprint(os.Stderr, "credential: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("no credential entered")
	}
	return tok, nil
}

type chatSession struct {
	mgr *chat.Manager
	out io.Writer
	r   *renderer
	req chat.CreateSessionRequest
}

func (s *chatSession) create(ctx context.Context) error {
	s.r.pause()
	id, err := s.mgr.Create(ctx, s.req)
	if id != "" {
		fmt.Fprintf(s.out, "session %s\n", id)
	}
	s.r.sync(s.mgr.Snapshot())
	return err
}

func (s *chatSession) open(ctx context.Context, id string) error {
	s.r.pause()
	err := s.mgr.Open(ctx, id)
	snap := s.mgr.Snapshot()
	if snap.Session.SessionID == id {
		fmt.Fprintf(s.out, "session %s: %s\n", id, snap.Title)
		printHistory(s.out, snap.Messages)
	}
	s.r.sync(snap)
	return err
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.run(ctx, strings.TrimSpace(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

// run executes one input line. Errors the manager already reported as
// failure events are not returned again.
func (s *chatSession) run(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
		return nil
	case "/title":
		if rest == "" {
			return fmt.Errorf("usage: /title <title>")
		}
		return s.mgr.Rename(ctx, rest)
	case "/open":
		if rest == "" {
			return fmt.Errorf("usage: /open <session-id>")
		}
		return quiet(s.open(ctx, rest))
	case "/new":
		return quiet(s.create(ctx))
	case "/delete":
		if err := s.mgr.DeleteSession(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "session deleted; /new or /open to continue")
		return nil
	case "/attach":
		path, text, _ := strings.Cut(rest, " ")
		if path == "" {
			return fmt.Errorf("usage: /attach <path> [text]")
		}
		u, err := readUpload(path)
		if err != nil {
			return err
		}
		return quiet(s.mgr.Send(ctx, strings.TrimSpace(text), u))
	}
	return quiet(s.mgr.Send(ctx, line))
}

// quiet drops errors that were already published to subscribers.
func quiet(err error) error {
	var (
		te *chat.TransportError
		ue *chat.UploadError
	)
	if errors.As(err, &te) || errors.As(err, &ue) {
		return nil
	}
	return err
}

func readUpload(path string) (chat.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Upload{}, fmt.Errorf("read attachment: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return chat.Upload{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
