package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauthdemo_logins_total",
		Help: "Completed login callbacks by result.",
	}, []string{"result"})

	TokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauthdemo_token_refreshes_total",
		Help: "Access token refreshes by result.",
	}, []string{"result"})

	TokenRecordsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauthdemo_token_records_purged_total",
		Help: "Token records deleted after an unrecoverable refresh failure.",
	})
)

// Register registers the application metrics with reg. Collectors that are
// already registered are skipped.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics")
		return
	}

	for _, c := range []prometheus.Collector{LoginsTotal, TokenRefreshesTotal, TokenRecordsPurgedTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				log.Warn().Err(err).Msg("Failed to register metric")
			}
		}
	}
}
