package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

const chatLongDesc string = `Chat with a running relay from the terminal.

Each line read from stdin is sent as one turn; the assistant's reply is
rendered as markdown. The session id returned by the relay is reused for
every following turn, so the conversation keeps its history. Type /quit
to leave.

Examples:
  relay chat
  relay chat --server http://localhost:5000 --session support-42
  relay chat -m "How do I reset my password?"`

const chatShortDesc string = "Chat with a relay server"

const defaultWrapWidth = 80

type chatCommander struct {
	serverURL string
	sessionID string
	message   string
	plain     bool
	timeout   time.Duration

	httpClient *http.Client
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.serverURL, "server", "http://localhost:5000", "Relay server URL")
	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Session id to continue (default: a new session)")
	cmd.Flags().StringVarP(&cmder.message, "message", "m", "", "Send a single message and exit")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Disable styled output")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 2*time.Minute, "Per-turn request timeout")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.serverURL = strings.TrimRight(c.serverURL, "/")
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	out := cmd.OutOrStdout()
	view, err := newView(out, c.plain)
	if err != nil {
		return fmt.Errorf("could not set up output: %w", err)
	}

	if c.message != "" {
		return c.turn(ctx, out, view, c.message)
	}

	interactive := isTerminal(cmd.InOrStdin())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		if interactive {
			fmt.Fprint(out, view.prompt.Render("> "))
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		if err := c.turn(ctx, out, view, line); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), view.failure.Render(err.Error()))
		}
	}

	return scanner.Err()
}

// turn sends one message and prints the reply.
func (c *chatCommander) turn(ctx context.Context, out io.Writer, v *view, message string) error {
	resp, err := c.send(ctx, message)
	if err != nil {
		return err
	}
	if c.sessionID == "" && resp.SessionID != "" {
		c.sessionID = resp.SessionID
		// Printed once so the conversation can be resumed with --session.
		fmt.Fprintln(out, v.session.Render("session "+c.sessionID))
	}

	rendered, err := v.markdown.Render(resp.Message)
	if err != nil {
		rendered = resp.Message + "\n"
	}
	fmt.Fprintln(out, v.assistant.Render(string(llm.RoleAssistant)))
	fmt.Fprint(out, rendered)
	return nil
}

func (c *chatCommander) send(ctx context.Context, message string) (*llm.ChatResponse, error) {
	body, err := json.Marshal(llm.ChatRequest{Message: &message, SessionID: c.sessionID})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp llm.ErrorResponse
		respBody, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(respBody, &errResp) != nil || errResp.Error == "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		if errResp.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s: %s", resp.StatusCode, errResp.Error, errResp.Message)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
	}

	var result llm.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}
	return &result, nil
}

// view holds the styles for one output writer.
type view struct {
	markdown  *glamour.TermRenderer
	assistant lipgloss.Style
	prompt    lipgloss.Style
	failure   lipgloss.Style
	session   lipgloss.Style
}

func newView(out io.Writer, plain bool) (*view, error) {
	styles := lipgloss.NewRenderer(out)

	f, isFile := out.(*os.File)
	tty := !plain && isFile && term.IsTerminal(int(f.Fd()))

	opts := []glamour.TermRendererOption{glamour.WithStandardStyle("notty"), glamour.WithWordWrap(defaultWrapWidth)}
	if tty {
		width := defaultWrapWidth
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
		opts = []glamour.TermRendererOption{glamour.WithAutoStyle(), glamour.WithWordWrap(width)}
	}

	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}

	return &view{
		markdown:  md,
		assistant: styles.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		prompt:    styles.NewStyle().Foreground(lipgloss.Color("6")),
		failure:   styles.NewStyle().Foreground(lipgloss.Color("1")),
		session:   styles.NewStyle().Faint(true),
	}, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
