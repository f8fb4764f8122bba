package atmledger

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	gatherer prometheus.Gatherer
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	posted   *prometheus.CounterVec
	fees     *prometheus.CounterVec
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		gatherer: registry,
		requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "atmledger",
			Name:      "requests_total",
			Help:      "Service calls by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atmledger",
			Name:      "request_duration_seconds",
			Help:      "Service call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		posted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "atmledger",
			Name:      "transactions_posted_total",
			Help:      "Transactions recorded by type.",
		}, []string{"type"}),
		fees: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "atmledger",
			Name:      "fees_charged_total",
			Help:      "Sum of fees charged by transaction type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(method string, start time.Time, err error) {
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.requests.WithLabelValues(method, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ErrBadRequest{}):
		return "bad_request"
	case errors.As(err, &ErrNotFound{}):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

type instrumentingMiddleware struct {
	next    Service
	metrics *Metrics
}

var (
	_ Service = (*instrumentingMiddleware)(nil)
)

func NewInstrumentingMiddleware(m *Metrics) Middleware {
	return func(next Service) Service {
		return &instrumentingMiddleware{
			next:    next,
			metrics: m,
		}
	}
}

func (i *instrumentingMiddleware) Post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	start := time.Now()
	resp, err := i.next.Post(ctx, req)
	i.metrics.observe("post", start, err)
	if err == nil {
		i.metrics.posted.WithLabelValues(string(resp.Kind)).Inc()
		i.metrics.fees.WithLabelValues(string(resp.Kind)).Add(resp.Fee.InexactFloat64())
	}
	return resp, err
}

func (i *instrumentingMiddleware) ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error) {
	start := time.Now()
	resps, err := i.next.ListByAccountNumber(ctx, number)
	i.metrics.observe("list", start, err)
	return resps, err
}

func (i *instrumentingMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	start := time.Now()
	bal, err := i.next.Balance(ctx, req)
	i.metrics.observe("balance", start, err)
	return bal, err
}

func (i *instrumentingMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	start := time.Now()
	err := i.next.Statement(ctx, w, req)
	i.metrics.observe("statement", start, err)
	return err
}
