// Command comacoded is the comacode host daemon: it accepts authenticated
// QUIC connections and multiplexes PTY sessions across them. Grounded on
// cmd/wtd/main.go and cmd/wt/serve.go's cobra flag surface and
// signal.NotifyContext shutdown idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/comacode/comacode/internal/config"
	"github.com/comacode/comacode/internal/connfsm"
	"github.com/comacode/comacode/internal/endpoint"
	"github.com/comacode/comacode/internal/logger"
	"github.com/comacode/comacode/internal/pairing"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "comacoded",
		Short: "comacode remote-terminal host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Bind, "bind", cfg.Bind, "address to bind the QUIC listener to")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn, or error")
	cmd.Flags().BoolVar(&cfg.NoBrowser, "no-browser", cfg.NoBrowser, "don't open a pairing URL in the local browser")
	cmd.Flags().BoolVar(&cfg.QRTerminal, "qr-terminal", cfg.QRTerminal, "print the pairing payload JSON to stdout")
	cmd.Flags().StringVar(&cfg.Mode, "mode", cfg.Mode, "explicit or legacy connection spawn discipline")

	return cmd
}

func run(cfg *config.Config) error {
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}

	store, err := endpoint.NewCertStore(dataDir)
	if err != nil {
		return fmt.Errorf("open cert store: %w", err)
	}

	ep, err := endpoint.New(cfg.Bind, store, connfsm.Mode(cfg.Mode))
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	defer ep.Close()

	pairingTok, err := ep.Tokens.Generate(0)
	if err != nil {
		return fmt.Errorf("generate pairing token: %w", err)
	}

	host, _ := splitHostForPairing(ep.Addr().String())
	payload := pairing.Build(host, ep.Port(), ep.Fingerprint(), pairingTok.String())
	printPairingInfo(cfg, payload)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ep.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		time.Sleep(time.Second) // grace period for in-flight streams
		return nil
	case err := <-errCh:
		return err
	}
}

func splitHostForPairing(addr string) (string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], nil
		}
	}
	return addr, nil
}

func printPairingInfo(cfg *config.Config, payload pairing.Payload) {
	data, err := payload.JSON()
	if err != nil {
		logger.Error("marshal pairing payload", "error", err)
		return
	}
	logger.Info("listening", "fingerprint", payload.Fingerprint, "port", payload.Port)
	if cfg.QRTerminal {
		fmt.Println(string(data))
	}
}
