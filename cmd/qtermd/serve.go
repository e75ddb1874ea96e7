package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qterm/qterm/internal/admission"
	"github.com/qterm/qterm/internal/config"
	"github.com/qterm/qterm/internal/server"
	"github.com/qterm/qterm/internal/session"
	"github.com/qterm/qterm/internal/transport"
	"github.com/qterm/qterm/internal/trust"
)

func serveCmd() *cobra.Command {
	var configPath, tokensPath, certPath, keyPath, listenAddr, shellOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for qterm client connections and host PTY sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if shellOverride != "" {
				cfg.Shell = shellOverride
			}
			if tokensPath != "" {
				cfg.TokensFile = tokensPath
			}
			if certPath != "" {
				cfg.CertFile = certPath
			}
			if keyPath != "" {
				cfg.KeyFile = keyPath
			}

			cert, fp, err := loadOrGenerateCert(cfg)
			if err != nil {
				return fmt.Errorf("load TLS certificate: %w", err)
			}
			log.Printf("qtermd: certificate fingerprint %s", fp)

			tokenStore := admission.NewTokenStore()
			if cfg.TokensFile != "" {
				tokens, err := config.LoadTokens(cfg.TokensFile)
				if err != nil {
					return fmt.Errorf("load tokens: %w", err)
				}
				tokenStore.Replace(tokens)
				log.Printf("qtermd: loaded %d auth token(s) from %s", len(tokens), cfg.TokensFile)

				watcher, err := config.WatchTokens(cfg.TokensFile, tokenStore)
				if err != nil {
					log.Printf("qtermd: token hot-reload disabled: %v", err)
				} else {
					defer watcher.Close()
				}
			}

			reconnect, err := admission.NewReconnectIssuer()
			if err != nil {
				return fmt.Errorf("init reconnect issuer: %w", err)
			}
			if der, err := reconnect.PublicKeyDER(); err != nil {
				log.Printf("qtermd: reconnect public key: %v", err)
			} else {
				log.Printf("qtermd: reconnect token signing key %s", der)
			}

			manager := session.NewManager(cfg.IdleTimeout)
			defer manager.Close()

			handler := server.NewHandler(server.Config{
				Manager:     manager,
				Tokens:      tokenStore,
				Bans:        admission.NewBanTracker(cfg.BanThreshold),
				RateLimiter: admission.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
				Reconnect:   reconnect,
				Shell:       cfg.Shell,
			})

			tlsConf := trust.ServerTLSConfig(cert, []string{transport.ALPN})
			ln, err := transport.Listen(cfg.ListenAddr, tlsConf, cfg.IdleTimeout, cfg.KeepAlive)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
			}
			defer ln.Close()
			log.Printf("qtermd: listening on %s", cfg.ListenAddr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			go reportSessionsOnSIGHUP(ctx, manager)

			errCh := make(chan error, 1)
			go func() { errCh <- handler.Serve(ctx, ln) }()

			select {
			case <-ctx.Done():
				log.Println("qtermd: shutting down")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to built-in admission settings)")
	cmd.Flags().StringVar(&tokensPath, "tokens", "", "path to tokens.yaml allow-list (overrides config)")
	cmd.Flags().StringVar(&certPath, "cert", "", "TLS certificate file (if --cert or --key is omitted, a self-signed pair is generated for this run and not saved)")
	cmd.Flags().StringVar(&keyPath, "key", "", "TLS key file (if --cert or --key is omitted, a self-signed pair is generated for this run and not saved)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&shellOverride, "shell", "", "shell to spawn for new sessions (overrides config)")
	return cmd
}

// reportSessionsOnSIGHUP logs the live session ids whenever the process
// receives SIGHUP, an operational status dump in the same spirit as the
// teacher's SIGHUP-triggered config reload.
func reportSessionsOnSIGHUP(ctx context.Context, manager *session.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			log.Printf("qtermd: %d live session(s): %v", manager.Count(), manager.List())
		}
	}
}

// loadOrGenerateCert loads a TLS certificate from cfg.CertFile/KeyFile if
// both are set, otherwise generates (and does not persist) a self-signed
// one for this run — fine for TOFU clients pinning the printed fingerprint,
// but means the fingerprint changes across restarts unless --cert/--key
// point at a stable pair.
func loadOrGenerateCert(cfg config.Config) (tls.Certificate, trust.Fingerprint, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return tls.Certificate{}, trust.Fingerprint{}, err
		}
		if len(cert.Certificate) == 0 {
			return tls.Certificate{}, trust.Fingerprint{}, fmt.Errorf("certificate file %s contains no certificates", cfg.CertFile)
		}
		return cert, trust.ComputeFingerprint(cert.Certificate[0]), nil
	}
	return trust.GenerateSelfSigned(hostnameOrDefault(), 10*365*24*time.Hour)
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "qtermd"
	}
	return h
}
