package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/config"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/engine"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/reconciler"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/scheduler"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	sched   *scheduler.Scheduler
	eng     *engine.Engine
	rec     *reconciler.Reconciler
	router  *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting infinite-memory-bot",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Int("curveSteps", len(a.cfg.Curve)),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	a.sched = scheduler.New(a.log)
	a.router = telegram.NewRouter(a.bot, a.log, a.repo)
	a.eng = engine.New(a.repo, a.sched, a.router, a.log,
		a.cfg.RepetitionCurve(), a.cfg.Quiet(), a.cfg.TestDelay)
	a.router.SetEngine(a.eng)
	a.rec = reconciler.New(a.repo, a.eng, a.sched, a.log,
		a.cfg.SweepInterval, a.cfg.SweepBatch, a.cfg.AwaitingAfter)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rebuild timers from the store, then keep sweeping.
	go a.rec.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			a.sched.Stop()

			// Create a short-lived shutdown context and cancel it immediately after use.
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)

		case job := <-a.sched.Due():
			go func(job scheduler.Job) {
				if err := a.eng.Deliver(ctx, job); err != nil {
					a.log.Error("delivery failed", zap.Error(err), zap.String("job", job.ID))
				}
			}(job)
		}
	}
}
