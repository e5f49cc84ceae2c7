// Package metrics exposes Prometheus counters for the spawn-catch-trade
// pipeline. All methods are nil-safe so wiring metrics stays optional.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	spawnsPosted     prometheus.Counter
	spawnsExpired    prometheus.Counter
	catchAttempts    *prometheus.CounterVec
	catchLatency     prometheus.Histogram
	tradesOpened     prometheus.Counter
	tradesClosed     *prometheus.CounterVec
	redemptions      *prometheus.CounterVec
	storeErrors      prometheus.Counter
	messengerRetries prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		spawnsPosted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nationdex_spawns_posted_total",
			Help: "Spawn announcements successfully posted.",
		}),
		spawnsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "nationdex_spawns_expired_total",
			Help: "Spawns that expired uncaught.",
		}),
		catchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nationdex_catch_attempts_total",
			Help: "Catch attempts by result.",
		}, []string{"result"}),
		catchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nationdex_catch_resolution_seconds",
			Help:    "Time from guess receipt to resolution.",
			Buckets: prometheus.DefBuckets,
		}),
		tradesOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "nationdex_trades_opened_total",
			Help: "Trade sessions opened.",
		}),
		tradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nationdex_trades_closed_total",
			Help: "Trade sessions closed by terminal state.",
		}, []string{"state"}),
		redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nationdex_promocode_redemptions_total",
			Help: "Promo code redemptions by result.",
		}, []string{"result"}),
		storeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "nationdex_store_errors_total",
			Help: "Unexpected persistence failures.",
		}),
		messengerRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "nationdex_messenger_retries_total",
			Help: "Outbound chat calls that needed a retry.",
		}),
	}
}

func (m *Metrics) SpawnPosted() {
	if m != nil {
		m.spawnsPosted.Inc()
	}
}

func (m *Metrics) SpawnsExpired(n int64) {
	if m != nil && n > 0 {
		m.spawnsExpired.Add(float64(n))
	}
}

func (m *Metrics) CatchAttempt(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.catchAttempts.WithLabelValues(result).Inc()
	m.catchLatency.Observe(took.Seconds())
}

func (m *Metrics) TradeOpened() {
	if m != nil {
		m.tradesOpened.Inc()
	}
}

func (m *Metrics) TradeClosed(state string) {
	if m != nil {
		m.tradesClosed.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Redemption(result string) {
	if m != nil {
		m.redemptions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) MessengerRetry() {
	if m != nil {
		m.messengerRetries.Inc()
	}
}

func (m *Metrics) StoreError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}

// Serve starts the promhttp endpoint. It blocks; run it on its own
// goroutine and close via the server it returns.
func Serve(host string, port int, log *slog.Logger) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "err", err)
		}
	}()
	return srv
}
