// Package metrics exposes the rebalancer's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "health_score",
		Help:      "Latest composite economic health score (0-100) per scope.",
	}, []string{"guild_id"})

	GiniIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "gini_index",
		Help:      "Latest Gini wealth inequality index per scope.",
	}, []string{"guild_id"})

	AnalysisCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "analysis_cycles_total",
		Help:      "Completed analysis cycles per scope.",
	}, []string{"guild_id"})

	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "cycle_errors_total",
		Help:      "Rebalance cycles that ended in error per scope.",
	}, []string{"guild_id"})

	Interventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "interventions_total",
		Help:      "Applied interventions per scope and kind.",
	}, []string{"guild_id", "kind"})

	UndistributedTax = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gildbot",
		Subsystem: "economy",
		Name:      "undistributed_tax_total",
		Help:      "Tax credits collected but not redistributed, per scope.",
	}, []string{"guild_id"})

	CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gildbot",
		Subsystem: "bot",
		Name:      "commands_handled_total",
		Help:      "Slash commands handled, per command name.",
	}, []string{"command"})
)

// Serve exposes /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("Metrics endpoint listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()
}
