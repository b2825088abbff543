package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck"
	"pkt.systems/sessiondeck/internal/termview"
	"pkt.systems/sessiondeck/schema"
)

type credentialFlags struct {
	passwordStdin bool
	askPassword   bool
	identity      string
	askPassphrase bool
}

func newConnectCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "connect <server>",
		Short: "Open a terminal to a stored server",
		Long:  "Open a terminal to a stored server. The server is matched by id, exact name or fuzzy name. Press Ctrl-] to close the tab and return.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			store, cfg, err := openHosts(ctx, cfgPath)
			if err != nil {
				return err
			}
			server, err := store.Resolve(ctx, args[0])
			_ = store.Close()
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Backend.SocketPath = socketPath
			}
			credentials, err := readCredentials(cmd.InOrStdin(), cmd.ErrOrStderr(), creds)
			if err != nil {
				return err
			}

			client, err := sessiondeck.Open(ctx, sessiondeck.ClientConfig{
				Deck:              cfg.DeckSettings(),
				SocketPath:        cfg.Backend.SocketPath,
				KeepaliveInterval: clientKeepalive(cfg.Backend.KeepaliveIntervalSeconds),
			}, sessiondeck.ClientDeps{Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := client.Close(closeCtx); err != nil {
					logger.Warn("client close failed", "err", err)
				}
			}()

			deck := client.Deck()
			resp, err := deck.Connect(ctx, schema.ConnectRequest{Server: server, Credentials: credentials})
			if err != nil {
				return err
			}
			if resp.Outcome == schema.ConnectPending {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "connect to %s already in progress\n", server.DisplayName())
				return err
			}

			view := termview.New(termview.Options{Resize: termview.NotifyResize(ctx)})
			result, err := view.Run(ctx, deck, resp.SessionID)
			if err != nil {
				return err
			}
			out := cmd.ErrOrStderr()
			switch {
			case result.Detached:
				deck.CloseTab(ctx, resp.Tab.ID)
				_, _ = fmt.Fprintf(out, "\r\nclosed %s\r\n", resp.Tab.Title)
			case result.Ended:
				_, _ = fmt.Fprintf(out, "\r\n%s disconnected\r\n", server.DisplayName())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket", "", "override backend.socket_path")
	cmd.Flags().BoolVar(&creds.passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&creds.askPassword, "ask-password", false, "prompt for the password")
	cmd.Flags().StringVarP(&creds.identity, "identity", "i", "", "private key file")
	cmd.Flags().BoolVar(&creds.askPassphrase, "ask-passphrase", false, "prompt for the private key passphrase")
	return cmd
}

func readCredentials(in io.Reader, prompt io.Writer, flags credentialFlags) (schema.Credentials, error) {
	var creds schema.Credentials
	if flags.passwordStdin && flags.askPassword {
		return creds, errors.New("--password-stdin and --ask-password are mutually exclusive")
	}
	if flags.identity != "" && (flags.passwordStdin || flags.askPassword) {
		return creds, errors.New("--identity cannot be combined with a password")
	}
	if flags.askPassphrase && flags.identity == "" {
		return creds, errors.New("--ask-passphrase requires --identity")
	}
	switch {
	case flags.passwordStdin:
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return creds, err
		}
		creds.Password = strings.TrimRight(line, "\r\n")
		if creds.Password == "" {
			return creds, errors.New("empty password on stdin")
		}
	case flags.askPassword:
		secret, err := promptSecret(prompt, "Password: ")
		if err != nil {
			return creds, err
		}
		creds.Password = secret
	case flags.identity != "":
		data, err := os.ReadFile(flags.identity)
		if err != nil {
			return creds, fmt.Errorf("read identity: %w", err)
		}
		creds.PrivateKey = string(data)
		if flags.askPassphrase {
			secret, err := promptSecret(prompt, "Passphrase: ")
			if err != nil {
				return creds, err
			}
			creds.Passphrase = secret
		}
	}
	return creds, nil
}

func promptSecret(prompt io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	_, _ = fmt.Fprint(prompt, label)
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// clientKeepalive pings at a third of the backend watchdog interval.
func clientKeepalive(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	interval := time.Duration(seconds) * time.Second / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
