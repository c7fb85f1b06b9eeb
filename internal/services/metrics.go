package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

var (
	// deliveryOutcomes counts worker iterations by outcome.
	deliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_outcomes_total",
			Help: "Delivery worker iterations by outcome.",
		},
		[]string{"outcome"},
	)

	// deliveryErrors counts iterations that failed on infrastructure
	// (database or pool), not on the email transport.
	deliveryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_errors_total",
			Help: "Delivery worker iterations that failed before reaching an outcome.",
		},
	)

	// deliverySendSeconds records email transport latency.
	deliverySendSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_send_duration_seconds",
			Help:    "Duration of email transport calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryOutcomes, deliveryErrors, deliverySendSeconds)
}

// NewQueueDepthCollector exposes the number of outstanding delivery tasks,
// read from the database at scrape time.
func NewQueueDepthCollector(db *gorm.DB, timeout time.Duration) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_depth",
			Help: "Delivery tasks waiting to be sent or retried.",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			n, err := repo.QueueDepth(ctx, db)
			if err != nil {
				return -1
			}
			return float64(n)
		},
	)
}
