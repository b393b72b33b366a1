package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homerobot/handlers"
	"homerobot/log"
	"homerobot/services"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run the relay server",
		RunE:  runRelay,
	}
	cmd.Flags().String("addr", ":3000", "listen address")
	cmd.Flags().Bool("access-log", false, "log every HTTP request")
	bindFlags(cmd.Flags(), map[string]string{"addr": "relay.addr"})
	return cmd
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := log.Named("relay")
	accessLog, _ := cmd.Flags().GetBool("access-log")

	var (
		journal     *services.Journal
		logs        handlers.LogHandlers
		journalDone = make(chan struct{})
	)
	if cfg.Database.Enabled() {
		db, err := services.OpenDatabase(cfg.Database)
		if err != nil {
			return err
		}
		journal = services.NewJournal(services.NewGormJournalStore(db), cfg.Journal.FlushSize, cfg.Journal.FlushInterval)
		logs.Store = journal
		go func() {
			journal.Run(ctx)
			close(journalDone)
		}()
	} else {
		logger.Warn("no database configured, drive journal disabled")
		close(journalDone)
	}

	registry := handlers.NewPeerRegistry()
	hub := handlers.NewRelayHub(registry, journal, cfg.Relay.PeerTimeout)
	go hub.Start(ctx)

	app := handlers.NewApp(handlers.AppConfig{
		Hub:          hub,
		Registry:     registry,
		Signals:      handlers.NewSignalBox(),
		Logs:         logs,
		AllowOrigins: cfg.Relay.AllowOrigins,
		AccessLog:    accessLog,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.Relay.Addr))
		errc <- app.Listen(cfg.Relay.Addr)
	}()

	var err error
	select {
	case err = <-errc:
		cancel()
	case <-ctx.Done():
		if serr := app.ShutdownWithTimeout(5 * time.Second); serr != nil {
			logger.Warn("shutdown", zap.Error(serr))
		}
	}
	<-journalDone
	logger.Info("relay stopped")
	return err
}
