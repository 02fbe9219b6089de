package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/db"
	"github.com/deemkeen/fedi/jobs"
	"github.com/deemkeen/fedi/mail"
	"github.com/deemkeen/fedi/metrics"
	"github.com/deemkeen/fedi/middleware"
	"github.com/deemkeen/fedi/util"
	"github.com/deemkeen/fedi/web"
)

// app holds the wired components of one process.
type app struct {
	conf     *util.AppConfig
	logger   *log.Logger
	db       *db.DB
	metrics  *metrics.Metrics
	queue    *jobs.Queue
	client   *activitypub.Client
	guard    *activitypub.Guard
	inbox    *activitypub.Inbox
	outbox   *activitypub.Outbox
	deletion *activitypub.Deletion
}

func newApp(ctx context.Context, conf *util.AppConfig, logger *log.Logger) (*app, error) {
	database, err := db.Open(ctx, util.ResolveFilePath(conf.Conf.DatabasePath), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	transport, err := openTransport(ctx, conf, database, logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	normalizer, err := activitypub.NewNormalizer()
	if err != nil {
		transport.Close()
		database.Close()
		return nil, err
	}

	localDomain := conf.Conf.SslDomain
	m := metrics.New()
	queue := jobs.NewQueue(transport, m, logger)
	client := activitypub.NewClient(nil, conf.DeliveryTimeout())
	resolver := activitypub.NewResolver(database, client, normalizer, localDomain, conf.ActorCacheTTL(), logger)
	mailer := mail.NewSender(conf.Conf.Smtp, &mail.LogSender{Logger: logger.WithPrefix("mail")})
	follows := activitypub.NewFollows(database, queue, mailer, logger)
	inbox := activitypub.NewInbox(database, normalizer, resolver, follows, queue, logger)

	deliverer := jobs.NewDeliverer(client, follows, jobs.NewClassifier(conf.Conf.PermanentErrorCodes), conf.Conf.DeliveryRetries, m, logger)
	jobs.NewHandlers(database, resolver, deliverer, client, inbox, mailer, logger).Register(queue)

	return &app{
		conf:     conf,
		logger:   logger,
		db:       database,
		metrics:  m,
		queue:    queue,
		client:   client,
		guard:    activitypub.NewGuard(resolver, conf.SignatureMaxSkew(), logger),
		inbox:    inbox,
		outbox:   activitypub.NewOutbox(database, resolver, follows, queue, localDomain, logger),
		deletion: activitypub.NewDeletion(database, queue, logger),
	}, nil
}

func openTransport(ctx context.Context, conf *util.AppConfig, database *db.DB, logger *log.Logger) (jobs.Transport, error) {
	opts := jobs.PollOptions{Workers: conf.Conf.QueueWorkers, MaxAttempts: conf.Conf.QueueMaxAttempts}
	switch conf.Conf.QueueBackend {
	case "memory":
		return jobs.NewMemoryTransport(conf.Conf.QueueWorkers, conf.Conf.QueueMaxAttempts, logger), nil
	case "pebble":
		return jobs.NewPebbleTransport(util.ResolveFilePath(conf.Conf.QueuePath), nil, opts, logger)
	case "sqlite", "":
		return jobs.NewSQLTransport(ctx, database.SQL(), opts, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", conf.Conf.QueueBackend)
	}
}

func (a *app) Close() {
	util.BestEffort(a.logger, "close queue", a.queue.Close)
	util.BestEffort(a.logger, "close database", a.db.Close)
}

func serve(ctx context.Context, conf *util.AppConfig, logger *log.Logger) error {
	a, err := newApp(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper, err := jobs.NewSweeper(a.deletion, conf.Conf.DeletionSweepCron, logger)
	if err != nil {
		return err
	}

	accounts := middleware.NewAccounts(a.db, conf.Conf.SslDomain, logger)
	console := middleware.NewConsole(a.db, a.outbox, a.deletion, a.client, conf.Conf.SslDomain, logger)
	s, err := wish.NewServer(
		wish.WithAddress(net.JoinHostPort(conf.Conf.Host, strconv.Itoa(conf.Conf.SshPort))),
		wish.WithHostKeyPath(".ssh/hostkey"),
		wish.WithPublicKeyAuth(publicKeyHandler),
		wish.WithMiddleware(
			console.Middleware(),
			middleware.AuthMiddleware(accounts),
			logging.Middleware(), // last middleware executed first
		),
	)
	if err != nil {
		return err
	}

	server := web.NewServer(a.db, a.guard, a.inbox, a.queue, a.metrics, conf, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	run("queue", func() error { return a.queue.Run(ctx) })
	run("web", func() error {
		return server.Run(ctx, net.JoinHostPort(conf.Conf.Host, strconv.Itoa(conf.Conf.HttpPort)))
	})
	run("ssh", func() error {
		logger.Info("Starting SSH server", "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			return err
		}
		return nil
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("SSH shutdown failed", "err", err)
	}
	wg.Wait()

	close(errs)
	return <-errs
}

// sweep runs one deletion sweep. The jobs it enqueues are processed by a
// running server, so the memory backend is refused.
func sweep(ctx context.Context, conf *util.AppConfig, logger *log.Logger) error {
	if conf.Conf.QueueBackend == "memory" {
		return fmt.Errorf("sweep needs a persistent queue backend")
	}
	a, err := newApp(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.deletion.Sweep(ctx, time.Now())
	if err != nil {
		return err
	}
	logger.Info("Sweep complete", "enqueued", n)
	return nil
}

func publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return true
}
