package predictor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictor_anomalies_total",
		Help: "Arrival anomalies detected, per hospital.",
	}, []string{"hospital"})

	retrainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictor_retrains_total",
		Help: "Model retraining passes completed.",
	})
)
