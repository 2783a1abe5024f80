package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/evaluator"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/relay"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/service"
	"crypto-price-alerts/internal/storage"
)

const pushTimeout = 10 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	feed fetcher.Feed
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newFeed() fetcher.Feed {
	if a.feed != nil {
		return a.feed
	}

	feedCfg := a.Config.Feed
	switch feedCfg.Provider {
	case config.ProviderCoinPaprika:
		a.feed = fetcher.NewPaprika(fetcher.PaprikaOptions{
			APIKey:  feedCfg.APIKey,
			Timeout: feedCfg.Timeout,
			IDs:     feedCfg.PaprikaIDs,
		}, a.Logger)
	default:
		a.feed = fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
			BaseURL:   feedCfg.BaseURL,
			APIKey:    feedCfg.APIKey,
			Timeout:   feedCfg.Timeout,
			UserAgent: feedCfg.UserAgent,
		}, a.Logger)
	}
	return a.feed
}

func (a *App) openStore(ctx context.Context) (storage.AlertStore, func(), error) {
	store, closer, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.Driver == config.DriverMemory {
		a.Logger.Warn().Msg("database.driver is memory; alerts are not persisted")
	}
	return store, closer, nil
}

// newMailer returns the session email channel. The relay client is also
// returned in backend mode so callers can register alerts and check its health.
func (a *App) newMailer() (alerting.Mailer, *alerting.RelayClient) {
	email := a.Config.Alerting.Email
	if email.Mode == config.EmailModeLog {
		return alerting.NewLogMailer(a.Logger), nil
	}
	client := alerting.NewRelayClient(email.RelayURL, email.Timeout, a.Logger)
	return client, client
}

func (a *App) newPush() alerting.PushNotifier {
	if !a.Config.Alerting.Push.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(a.Config.Alerting.Push, pushTimeout, a.Logger)
}

func (a *App) newDispatcher(mailer alerting.Mailer, actions alerting.ActionFactory) *alerting.Dispatcher {
	return alerting.NewDispatcher(alerting.DispatcherOptions{
		Push:      a.newPush(),
		Mailer:    mailer,
		UserEmail: a.Config.Session.UserEmail,
		Actions:   actions,
	}, a.Logger)
}

func (a *App) owner() (string, error) {
	if a.Config.Session.UserID == "" {
		return "", errors.New("session.user_id is not configured; sign in by setting PRICEALERTS_SESSION_USER_ID")
	}
	return a.Config.Session.UserID, nil
}

// Watch runs the client session until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := a.owner(); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mailer, relayClient := a.newMailer()
	if relayClient != nil {
		if err := relayClient.Health(ctx); err != nil {
			a.Logger.Warn().Err(err).Str("relay_url", a.Config.Alerting.Email.RelayURL).Msg("notification relay unreachable; emails will fail until it is up")
		}
	}
	if a.Config.Session.UserEmail == "" {
		a.Logger.Warn().Msg("session.user_email not configured; email notifications disabled")
	}

	ev := evaluator.New(evaluator.OptionsFromConfig(a.Config.Evaluator))
	// The dispatcher needs the session for its remove action and the
	// session needs the dispatcher, so the action binds late.
	var session *service.Session
	dispatcher := a.newDispatcher(mailer, service.RemoveAlertAction(func(ctx context.Context, id string) error {
		return session.RemoveAlert(ctx, id)
	}))

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)

	session = service.New(a.Config, sched, a.newFeed(), store, ev, dispatcher, metrics.NewSessionMetrics(reg), a.Logger)

	if addr := a.Config.Session.StatusAddr; addr != "" {
		status := service.NewStatusServer(session, reg, a.Config.AllowedOrigins(), a.Logger)
		go func() {
			if err := status.Serve(ctx, addr); err != nil {
				a.Logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	a.Logger.Info().
		Str("owner", a.Config.Session.UserID).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("provider", a.Config.Feed.Provider).
		Msg("starting alert session")
	err = session.Run(ctx)
	session.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("session terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert session stopped")
	return nil
}

// Serve runs the notification relay until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := relay.NewServer(a.Config, relay.NewSMTPSender(a.Config.Mail, a.Logger), reg, a.Logger)
	if err != nil {
		return fmt.Errorf("build relay: %w", err)
	}

	err = srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("relay terminated with error")
		return err
	}

	a.Logger.Info().Msg("relay stopped")
	return nil
}

// AddAlertOptions describe a new alert.
type AddAlertOptions struct {
	Coin     string
	CoinName string
	Target   string
	Price    string
}

// ExportOptions hold parameters for the alert progress report.
type ExportOptions struct {
	PNGPath   string
	CSVPath   string
	MaxAlerts int
}

// ListOptions configure the alerts list command.
type ListOptions struct {
	Offline bool
}
