package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the guarded ai, feedback and trace endpoints over HTTP",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting the ai-guard server", zap.String("version", version))

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	client, err := svc.newClient(ctx)
	if err != nil {
		logger.Fatal("building ai client", zap.Error(err))
	}

	handler := server.NewHandler(server.Services{
		Caller:    client,
		Sanitizer: svc.pii,
		Traces:    svc.traces,
		Queue:     svc.queue,
		Retention: svc.retention,
		Metrics:   svc.metrics,
	}, logger.Named("http"))

	srv := server.New(config.Server.Addr, server.NewRouter(handler, svc.registry, logger.Named("http")))
	if err := server.Serve(ctx, srv, logger); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
