package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/soa-bra/glass-project-flow-sub021/internal/relay"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
)

// advertise announces the relay over mDNS; tests replace it.
var advertise = relay.Advertise

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	DB       string
	Driver   string
	Redis    string
	Instance string
	MDNS     bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server.

Participants connect to /boards/{board}/ws. Every op is appended to the
op log before it is fanned out. With --redis, traffic is shared with other
relay instances on the same Redis; with --mdns, the relay is advertised on
the LAN.

Flags override the config file.

Examples:
  boardsync serve --addr :7070 --db boards.db
  boardsync serve --driver bolt --db boards.bolt
  boardsync serve --redis localhost:6379 --instance east`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the op log")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "op log driver (sqlite|bolt)")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address for multi-instance relays")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance name for the bus and mDNS")
	cmd.Flags().BoolVar(&opts.MDNS, "mdns", false, "advertise the relay over mDNS")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Relay.Addr = opts.Addr
	}
	if flags.Changed("db") {
		cfg.Store.Path = opts.DB
	}
	if flags.Changed("driver") {
		cfg.Store.Driver = opts.Driver
	}
	if flags.Changed("redis") {
		cfg.Relay.RedisAddr = opts.Redis
	}
	if flags.Changed("instance") {
		cfg.Relay.Instance = opts.Instance
	}
	if flags.Changed("mdns") {
		cfg.Relay.MDNS = opts.MDNS
	}
	if cfg.Relay.Instance == "" {
		cfg.Relay.Instance, _ = os.Hostname()
	}

	logger := opts.logger(cmd.ErrOrStderr()).With("instance", cfg.Relay.Instance)

	log, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open op log", err)
	}
	defer log.Close()

	serverOpts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithMetrics(relay.NewMetrics(cfg.Relay.MetricsNamespace)),
	}
	if cfg.Relay.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to reach redis at %s", cfg.Relay.RedisAddr), err)
		}
		serverOpts = append(serverOpts, relay.WithBus(relay.NewRedisBus(rdb, cfg.Relay.Instance, logger)))
	}

	ln, err := net.Listen("tcp", cfg.Relay.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", cfg.Relay.Addr), err)
	}

	if cfg.Relay.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		withdraw, err := advertise(cfg.Relay.Instance, port, logger)
		if err != nil {
			ln.Close()
			return WrapExitError(ExitCommandError, "failed to advertise relay", err)
		}
		defer withdraw()
	}

	logger.Debug("op log opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	srv := relay.NewServer(log, serverOpts...)
	if err := srv.Serve(ctx, ln); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
