package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/qterm/qterm/internal/client"
	"github.com/qterm/qterm/internal/transport"
	"github.com/qterm/qterm/internal/trust"
	"github.com/qterm/qterm/internal/wire"
)

func connectCmd() *cobra.Command {
	var tokenHex, fingerprintHex string

	cmd := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Connect to a qtermd daemon and attach to a remote PTY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]

			tok, err := tokenFromFlagOrEnv(tokenHex)
			if err != nil {
				return err
			}

			verifier := &trust.Verifier{}
			if fingerprintHex != "" {
				fp, err := trust.ParseFingerprint(fingerprintHex)
				if err != nil {
					return fmt.Errorf("parse --fingerprint: %w", err)
				}
				verifier.Pinned = &fp
			} else {
				fmt.Fprintln(os.Stderr, "qterm: no --fingerprint given, trusting whatever certificate the server presents on first connect")
			}

			tlsConf := trust.ClientTLSConfig(verifier, []string{transport.ALPN})

			c := client.New(addr, tlsConf, tok)
			c.AppVersion = "qterm/1"

			fd := int(os.Stdin.Fd())
			isTTY := term.IsTerminal(fd)

			var restore func()
			if isTTY {
				oldState, err := term.MakeRaw(fd)
				if err == nil {
					restore = func() { term.Restore(fd, oldState) }
					defer restore()
				}
			}

			c.OnOutput = func(data []byte) {
				os.Stdout.Write(data)
			}
			c.OnState = func(state string, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "\r\nqterm: %s: %v\r\n", state, err)
				} else {
					fmt.Fprintf(os.Stderr, "\r\nqterm: %s\r\n", state)
				}
				if verifier.Pinned == nil && verifier.Observed != (trust.Fingerprint{}) {
					verifier.Pinned = &verifier.Observed
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if isTTY {
				if w, h, err := term.GetSize(fd); err == nil {
					c.SendResize(uint16(h), uint16(w))
				}
				go watchResize(ctx, fd, c)
			}

			go pumpStdin(ctx, c)

			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenHex, "token", "", "hex-encoded auth token (defaults to $QTERM_TOKEN)")
	cmd.Flags().StringVar(&fingerprintHex, "fingerprint", "", "pinned server certificate fingerprint (skip to trust-on-first-use)")
	return cmd
}

func tokenFromFlagOrEnv(flagVal string) (wire.AuthToken, error) {
	hexTok := flagVal
	if hexTok == "" {
		hexTok = os.Getenv("QTERM_TOKEN")
	}
	if hexTok == "" {
		return wire.AuthToken{}, fmt.Errorf("no auth token: pass --token or set QTERM_TOKEN")
	}
	return wire.AuthTokenFromHex(hexTok)
}

func watchResize(ctx context.Context, fd int, c *client.Client) {
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-winchCh:
			if w, h, err := term.GetSize(fd); err == nil {
				c.SendResize(uint16(h), uint16(w))
			}
		}
	}
}

func pumpStdin(ctx context.Context, c *client.Client) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.SendInput(data)
		}
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
