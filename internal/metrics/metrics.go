package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	LinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_lines_total",
			Help: "The total number of decoder output lines read",
		},
	)
	ReadingsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_readings_published_total",
			Help: "The total number of readings published to the MQTT broker",
		},
	)
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_publish_errors_total",
			Help: "The total number of failed MQTT publishes",
		},
	)
	UnknownMeters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_unknown_meter_total",
			Help: "The total number of lines dropped because the meter is not watched or the shape is unknown",
		},
	)
	DecoderRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_decoder_restarts_total",
			Help: "The total number of decoder subprocess restarts",
		},
	)
	LivenessPings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amridm2mqtt_liveness_pings_total",
			Help: "The total number of outbound liveness pings attempted",
		},
	)
)
