package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"eamscan/internal/config"
	"eamscan/internal/detect"
	"eamscan/internal/dispatch"
	"eamscan/internal/events"
	"eamscan/internal/httpapi"
	"eamscan/internal/ingest"
	"eamscan/internal/metrics"
	"eamscan/internal/notify"
	"eamscan/internal/procset"
	"eamscan/internal/store"
	"eamscan/internal/window"
)

// storeOpTimeout bounds individual store lookups inside an evaluation so a
// slow database cannot stall a channel lane for the whole eval timeout.
const storeOpTimeout = 5 * time.Second

// App wires the detection plane components together.
type App struct {
	cfg        config.Config
	log        zerolog.Logger
	store      *store.Store
	bus        *events.Bus
	stats      *metrics.Metrics
	detector   *detect.Detector
	dispatcher *dispatch.Dispatcher
	watcher    *ingest.Watcher
	notifier   *notify.Notifier
	mux        *http.ServeMux
}

func New(cfg config.Config) (*App, error) {
	log := newLogger(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	stats := metrics.New()
	cache := procset.NewLRU(cfg.Detector.CacheSize, time.Duration(cfg.Detector.CacheTTLMin)*time.Minute)
	builder := window.NewBuilder(st, storeOpTimeout, cfg.Detector.TriggerPhrases)
	detector := detect.New(cfg.Detector, builder, st, cache, bus, stats, log, storeOpTimeout)

	dispatcher := dispatch.New(dispatch.EvaluatorFunc(func(ctx context.Context, frag store.Fragment) error {
		_, err := detector.Evaluate(ctx, frag)
		return err
	}), cfg.ChannelQueueSize, cfg.EvalTimeout(), log)

	watcher := ingest.New(cfg.SpoolDir, st, dispatcher, stats, log)
	notifier := notify.New(cfg.WebhookEndpoints, log)

	mux := http.NewServeMux()
	router := httpapi.NewRouter(cfg, st, dispatcher, stats, log)
	router.Register(mux)

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		bus:        bus,
		stats:      stats,
		detector:   detector,
		dispatcher: dispatcher,
		watcher:    watcher,
		notifier:   notifier,
		mux:        mux,
	}, nil
}

// Run starts the dispatcher, spool watcher, notifier, and HTTP server, then
// blocks until the context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	go a.notifier.Run(ctx, a.bus.Subscribe())

	if err := os.MkdirAll(a.cfg.SpoolDir, 0o755); err != nil {
		return err
	}
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	if err := a.watcher.Backfill(ctx); err != nil {
		a.log.Warn().Err(err).Msg("spool backfill failed")
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.dispatcher.Stop(shutdownCtx)
	}()
	a.log.Info().Str("addr", a.cfg.HTTPPort).Msg("http listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}

// Close releases the database handle. Call after Run returns.
func (a *App) Close() error { return a.store.Close() }

func (a *App) Store() *store.Store              { return a.store }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *App) Mux() *http.ServeMux              { return a.mux }

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
