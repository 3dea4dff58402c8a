package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/config"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

type globalFlags struct {
	configPath string
	addr       string
	token      string
	output     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "teleops-rca",
		Short:         "Alert correlation and reviewed root-cause analysis for network operations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch g.output {
			case "table", "json":
				return nil
			default:
				return fmt.Errorf("--output must be table or json, got %q", g.output)
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "Path to configuration file (default $TELEOPS_RCA_CONFIG)")
	f.StringVar(&g.addr, "addr", "", "Address of a running teleops-rca server; empty runs in-process")
	f.StringVar(&g.token, "token", os.Getenv("TELEOPS_RCA_TOKEN"), "Reviewer bearer token for remote review calls")
	f.StringVarP(&g.output, "output", "o", "table", "Output format: table or json")

	root.AddCommand(
		newServeCmd(g),
		newCorrelateCmd(g),
		newRCACmd(g),
		newReviewCmd(g),
		newAuditCmd(g),
		newIncidentsCmd(g),
		newTokenCmd(g),
	)
	return root
}

func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// session is one command's view of the RCA engine: either an in-process app or a
// remote client.
type session struct {
	engine api.RCAEngineServer
	app    *app
	close  func()
}

func (s *session) Close() {
	if s.close != nil {
		s.close()
	}
}

// local reports whether the session runs in-process.
func (s *session) local() bool { return s.app != nil }

func (g *globalFlags) open(ctx context.Context) (*session, error) {
	if g.addr != "" {
		conn, err := grpc.NewClient(g.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", g.addr, err)
		}
		return &session{engine: api.NewClient(conn), close: func() { _ = conn.Close() }}, nil
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := utils.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.JSON)
	if cfg.Store.Driver == "memory" {
		logger.Warn("memory store selected; state will not outlive this command")
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{
		engine: api.NewHandler(a.service, logger),
		app:    a,
		close: func() {
			if err := a.Close(); err != nil {
				logger.Warn("close resources", slog.Any("error", err))
			}
		},
	}, nil
}

// callCtx attaches the reviewer token to remote calls.
func (g *globalFlags) callCtx(ctx context.Context) context.Context {
	return api.WithBearer(ctx, g.token)
}
