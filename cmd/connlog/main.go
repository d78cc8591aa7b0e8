package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connlog/internal/alerting"
	"connlog/internal/config"
	"connlog/internal/engine"
	"connlog/internal/ingestion"
	"connlog/internal/logging"
	"connlog/internal/session"
	"connlog/internal/storage"
	"connlog/internal/view"
	"connlog/pkg/models"
)

func main() {
	os.Exit(run(config.Load()))
}

// run serves until a signal arrives and returns the process exit code
func run(cfg config.Config) int {
	logging.Init(cfg.Log.JSON, logging.ParseLevel(cfg.Log.Level))

	slog.Info("starting connlog", "addr", cfg.Server.Addr)

	// Initialize components
	store := storage.NewMemoryStore(
		storage.WithMaxLogs(cfg.Retention.MaxLogs),
		storage.WithMaxLogsPerConn(cfg.Retention.MaxLogsPerConn),
	)

	alertMgr := alerting.NewAlertManager(handleAlert)
	if cfg.Alerts.ErrorThreshold > 0 {
		alertMgr.AddRule(alerting.AlertRule{
			Name:      "Error burst",
			MinLevel:  models.LevelError,
			Threshold: cfg.Alerts.ErrorThreshold,
			Window:    cfg.Alerts.Window,
		})
	}
	alertMgr.Start()
	defer alertMgr.Stop()

	ingestor := ingestion.NewIngestor(store, ingestion.WithAlertManager(alertMgr))
	eng := engine.NewSimulator(engine.WithInterval(cfg.Sim.Interval))
	ctrl := session.NewController(eng, store, ingestor, session.WithAlertManager(alertMgr))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.StatsInterval > 0 {
		go ingestor.ReportStats(ctx, cfg.Server.StatsInterval)
	}

	srv := newServer(ctrl, view.NewInspector(store), ingestor, store, cfg.Proxy)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(),
	}

	if cfg.Proxy.ServerHost != "" && !ctrl.Start(ctx, srv.defaults) {
		slog.Warn("auto-start failed", "status", ctrl.Status())
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return shutdown(shutdownCtx, httpSrv, ctrl)
}

// shutdown stops the HTTP server, then the session. A session that fails to
// stop yields exit code 1.
func shutdown(ctx context.Context, httpSrv *http.Server, ctrl *session.Controller) int {
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if ctrl.Running() && !ctrl.Stop(ctx) {
		slog.Warn("session did not stop cleanly")
		return 1
	}
	return 0
}

// handleAlert is called when an alert is triggered
func handleAlert(alert alerting.Alert) {
	slog.Warn("alert", "rule", alert.RuleName, "count", alert.Count, "message", alert.Message)
}
