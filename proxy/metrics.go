package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rate_limiter",
		Name:      "requests_total",
		Help:      "Requests evaluated by the limiter, by admission decision.",
	}, []string{"decision"})

	denialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rate_limiter",
		Name:      "denials_total",
		Help:      "Denied requests, by the kind of the denying strategy.",
	}, []string{"strategy"})

	failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rate_limiter",
		Name:      "fail_open_total",
		Help:      "Requests admitted despite bucket store errors.",
	})

	upstreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rate_limiter",
		Name:      "upstream_errors_total",
		Help:      "Transport failures on the upstream leg.",
	})
)
