package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/db"
	"github.com/deemkeen/fedi/util"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           util.Name,
		Short:         "ActivityPub server with an ssh console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the ssh console, the web server and the job queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, logger, err := setup()
				if err != nil {
					return err
				}
				return serve(cmd.Context(), conf, logger)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, logger, err := setup()
				if err != nil {
					return err
				}
				database, err := db.Open(cmd.Context(), util.ResolveFilePath(conf.Conf.DatabasePath), logger)
				if err != nil {
					return err
				}
				logger.Info("Database migrations complete")
				return database.Close()
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Enqueue deletion of every actor whose grace period is over",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, logger, err := setup()
				if err != nil {
					return err
				}
				return sweep(cmd.Context(), conf, logger)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println(util.GetNameAndVersion())
			},
		},
	)
	return root
}

func setup() (*util.AppConfig, *log.Logger, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	logger := util.NewLogger(conf)
	logger.Info(util.GetNameAndVersion(), "domain", conf.Conf.SslDomain, "activitypub", conf.Conf.WithAp, "queue", conf.Conf.QueueBackend)
	return conf, logger, nil
}
