// Command newsletterd runs the newsletter admin API, the delivery workers, or
// both in one process.
//
//	newsletterd --mode all --env-file .env --migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	httpapi "github.com/tbourn/go-newsletter-backend/internal/http"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "newsletterd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		mode    string
		envFile string
		migrate bool
		showVer bool
		seed    []string
	)
	flags := pflag.NewFlagSet("newsletterd", pflag.ContinueOnError)
	flags.StringVar(&mode, "mode", "all", "what to run: api, worker or all")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing is fine)")
	flags.BoolVar(&migrate, "migrate", sysutil.IsTruthy(os.Getenv("AUTO_MIGRATE")), "apply schema migrations on start")
	flags.BoolVar(&showVer, "version", false, "print the version and exit")
	flags.StringSliceVar(&seed, "seed-subscribers", nil, "comma-separated emails to add as confirmed subscribers on start")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	if showVer {
		fmt.Println(ver)
		return nil
	}
	runAPI, runWorkers, err := parseMode(mode)
	if err != nil {
		return err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName, mode)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver, mode)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("schema migrated")
	}
	if len(seed) > 0 {
		added, err := seedSubscribers(ctx, db, seed)
		if err != nil {
			return fmt.Errorf("seed subscribers: %w", err)
		}
		log.Info().Int("added", added).Int("requested", len(seed)).Msg("subscribers seeded")
	}
	if err := prometheus.Register(services.NewQueueDepthCollector(db, 2*time.Second)); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	log.Info().
		Str("version", ver).
		Str("db_driver", cfg.DB.Driver).
		Bool("api", runAPI).
		Bool("workers", runWorkers).
		Msg("starting")

	g, gctx := errgroup.WithContext(ctx)
	if runAPI {
		srv := newServer(cfg, db)
		g.Go(func() error { return serve(gctx, srv) })
	}
	if runWorkers {
		sender, err := email.NewClient(cfg.Email)
		if err != nil {
			return fmt.Errorf("email client: %w", err)
		}
		for i := range cfg.Worker.Count {
			w := newWorker(cfg, db, sender, log.Logger.With().Int("worker", i).Logger())
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()
	log.Info().Err(err).Msg("stopped")
	return err
}

func parseMode(mode string) (api, workers bool, err error) {
	switch mode {
	case "api":
		return true, false, nil
	case "worker":
		return false, true, nil
	case "all":
		return true, true, nil
	default:
		return false, false, fmt.Errorf("unknown mode %q (want api, worker or all)", mode)
	}
}

func newServer(cfg config.Config, db *gorm.DB) *http.Server {
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg)
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// serve runs srv until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newWorker(cfg config.Config, db *gorm.DB, sender services.EmailSender, logger zerolog.Logger) *services.DeliveryWorker {
	return services.NewDeliveryWorker(db, sender,
		services.WithMaxRetries(cfg.Worker.MaxRetries),
		services.WithRetryDelay(retryDelay(cfg.Worker)),
		services.WithPollInterval(cfg.Worker.PollInterval),
		services.WithErrorBackoff(cfg.Worker.ErrorBackoff),
		services.WithSendTimeout(cfg.Email.Timeout),
		services.WithAcquireTimeout(cfg.DB.AcquireTimeout),
		services.WithLogger(logger),
	)
}

func retryDelay(cfg config.WorkerConfig) services.RetryDelayFunc {
	if cfg.RetryPolicy == "fixed" {
		return services.FixedRetryDelay(cfg.RetryBaseDelay)
	}
	return services.ExponentialRetryDelay(cfg.RetryBaseDelay, cfg.RetryMaxDelay)
}

// seedSubscribers adds each valid address as a confirmed subscriber.
// Addresses that are already subscribed are skipped. It returns how many
// rows were created.
func seedSubscribers(ctx context.Context, db *gorm.DB, emails []string) (int, error) {
	added := 0
	for _, raw := range emails {
		email, err := domain.ParseSubscriberEmail(strings.TrimSpace(raw))
		if err != nil {
			return added, err
		}
		_, err = repo.CreateSubscription(ctx, db, email.String(), "", domain.SubscriptionConfirmed)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			continue
		case err != nil:
			return added, err
		}
		added++
	}
	return added, nil
}
