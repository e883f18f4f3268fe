package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/korylprince/tevor-concierge/httpapi"
	"github.com/spf13/cobra"
)

var (
	server   string
	email    string
	password string
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal client for the concierge chat API",
	Long: `chatclient authenticates against a concierge server and talks to it from a terminal.

Environment Variables:
  CONCIERGE_EMAIL     - default for --email
  CONCIERGE_PASSWORD  - default for --password`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if email == "" {
			email = os.Getenv("CONCIERGE_EMAIL")
		}
		if password == "" {
			password = os.Getenv("CONCIERGE_PASSWORD")
		}
		if email == "" || password == "" {
			return errors.New("--email and --password are required")
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <project-id>",
	Short: "Open an interactive chat for a project",
	Long: `Open an interactive chat for a project.

Lines are sent as chat messages, except:
  /select <service-id>                     start a guided service
  /action <service-id> <action-id> [json]  submit a step component or quick action
  /quit                                    leave`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the guided services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login()
		if err != nil {
			return err
		}
		services, err := c.services()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, s := range services {
			fmt.Fprintf(out, "%s %s (%s) v%s: %s\n", s.Emoji, s.Name, s.ID, s.Version, s.Description)
			for _, a := range s.Actions {
				fmt.Fprintf(out, "    %s %s [%s]\n", a.Icon, a.Label, a.ID)
			}
		}
		return nil
	},
}

var quotesCmd = &cobra.Command{
	Use:   "quotes <project-id>",
	Short: "Show the quote requests submitted for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login()
		if err != nil {
			return err
		}
		resp, err := c.quotes(args[0])
		if err != nil {
			return err
		}
		e := json.NewEncoder(cmd.OutOrStdout())
		e.SetIndent("", "  ")
		return e.Encode(resp)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "server URL (http/https)")
	rootCmd.PersistentFlags().StringVar(&email, "email", "", "user email for authentication")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "user password for authentication")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(quotesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func login() (*apiClient, error) {
	c := newAPIClient(server)
	if err := c.authenticate(email, password); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return c, nil
}

//parseLine turns an input line into a client frame. ok is false for blank lines.
func parseLine(line string) (f httpapi.ClientFrame, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return f, false, nil
	}

	switch {
	case strings.HasPrefix(line, "/select "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/select "))
		return httpapi.ClientFrame{Type: httpapi.ClientFrameSelectService, ServiceID: id}, true, nil
	case strings.HasPrefix(line, "/action "):
		fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/action ")), " ", 3)
		if len(fields) < 2 {
			return f, false, errors.New("usage: /action <service-id> <action-id> [json]")
		}
		f = httpapi.ClientFrame{Type: httpapi.ClientFrameAction, ServiceID: fields[0], ActionID: fields[1]}
		if len(fields) == 3 {
			payload := json.RawMessage(strings.TrimSpace(fields[2]))
			if !json.Valid(payload) {
				//bare words are sent as a JSON string
				buf, _ := json.Marshal(string(payload))
				payload = buf
			}
			f.Payload = payload
		}
		return f, true, nil
	}

	return httpapi.ClientFrame{Type: httpapi.ClientFrameMessage, Message: line}, true, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	c, err := login()
	if err != nil {
		return err
	}

	conn, err := c.dialChat(args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	r := newRenderer(out)

	readErr := make(chan error, 1)
	go func() {
		for {
			var f httpapi.ServerFrame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			r.frame(&f)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(cmd.InOrStdin())
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				fmt.Fprintln(out, "Goodbye!")
				return conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}

			f, send, err := parseLine(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if !send {
				continue
			}
			if err := conn.WriteJSON(f); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("failed to send: %w", err)
			}
		}
	}
}
