package servecmder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/supportrelay/pkg/logger"
	"github.com/papercomputeco/supportrelay/server"
)

const serveLongDesc string = `Run the relay HTTP server.

Configuration is read from an optional TOML file, then from the
environment (OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL, PORT,
CORS_ORIGIN, RELAY_STORE), then from flags. Session histories live
in process memory and are lost on restart.

Examples:
  relay serve
  relay serve --config relay.toml --listen :8080
  relay serve --store sqlite --debug`

const serveShortDesc string = "Run the relay server"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath string
	listenAddr string
	model      string
	store      string
	corsOrigin string
	logFormat  string
	debug      bool
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", "", "Address to listen on (default :5000)")
	cmd.Flags().StringVar(&cmder.model, "model", "", "Completion model identifier")
	cmd.Flags().StringVar(&cmder.store, "store", "", "Session store backend: memory or sqlite")
	cmd.Flags().StringVar(&cmder.corsOrigin, "cors-origin", "", "Allowed CORS origin")
	cmd.Flags().StringVar(&cmder.logFormat, "log-format", logger.FormatConsole, "Log format: console or json")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

// loadConfig layers changed flags over the file and environment configuration.
func (c *serveCommander) loadConfig(cmd *cobra.Command) (server.Config, error) {
	cfg, err := server.LoadConfig(c.configPath)
	if err != nil {
		return server.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = c.listenAddr
	}
	if flags.Changed("model") {
		cfg.Model = c.model
	}
	if flags.Changed("store") {
		cfg.Store = c.store
	}
	if flags.Changed("cors-origin") {
		cfg.CORSOrigin = c.corsOrigin
	}

	if err := cfg.Validate(); err != nil {
		return server.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.NewLogger(c.debug, c.logFormat)
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("could not create relay: %w", err)
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", cfg.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.RunWithListener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down relay server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay server failed", zap.Error(err))
		return err
	}
	return nil
}
