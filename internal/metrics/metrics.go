package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry
	service  string

	requests             *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	statusCategory       *prometheus.CounterVec
	checkouts            *prometheus.CounterVec
	checkoutAmount       *prometheus.CounterVec
	returns              *prometheus.CounterVec
	walletOverdrafts     prometheus.Counter
	expiryWriteOffs      prometheus.Counter
	releasedReservations prometheus.Counter
}

func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		service:  serviceName,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		statusCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_status_category_total",
				Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category"},
		),
		checkouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmledger_checkouts_total",
				Help: "Committed checkouts by payment method",
			},
			[]string{"scope", "payment_method"},
		),
		checkoutAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmledger_checkout_amount_total",
				Help: "Sum of receipt totals by scope",
			},
			[]string{"scope"},
		),
		returns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmledger_returns_total",
				Help: "Committed return operations",
			},
			[]string{"scope", "refund_policy"},
		),
		walletOverdrafts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmledger_wallet_overdrafts_total",
			Help: "Checkouts that took a wallet below zero",
		}),
		expiryWriteOffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmledger_expiry_write_offs_total",
			Help: "Items whose stock was zeroed by the expiry sweep",
		}),
		releasedReservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmledger_released_reservations_total",
			Help: "Cart lines released after their reservation expired",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.statusCategory,
		m.checkouts,
		m.checkoutAmount,
		m.returns,
		m.walletOverdrafts,
		m.expiryWriteOffs,
		m.releasedReservations,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one served request. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method string, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.requests.WithLabelValues(m.service, method, path, statusStr).Inc()
	m.requestDuration.WithLabelValues(m.service, method, path, statusStr).Observe(elapsed.Seconds())
	if category := statusCategory(status); category != "" {
		m.statusCategory.WithLabelValues(m.service, category).Inc()
	}
}

func (m *Metrics) CheckoutCommitted(scope string, paymentMethod string, total float64, walletWentNegative bool) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(scope, paymentMethod).Inc()
	m.checkoutAmount.WithLabelValues(scope).Add(total)
	if walletWentNegative {
		m.walletOverdrafts.Inc()
	}
}

func (m *Metrics) ReturnCommitted(scope string, refundPolicy string) {
	if m == nil {
		return
	}
	m.returns.WithLabelValues(scope, refundPolicy).Inc()
}

func (m *Metrics) ExpiryWriteOffs(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiryWriteOffs.Add(float64(n))
}

func (m *Metrics) ReservationsReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.releasedReservations.Add(float64(n))
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return ""
	}
}
