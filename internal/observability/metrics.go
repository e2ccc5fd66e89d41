package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client.
type Metrics struct {
	ConnectionState   prometheus.Gauge
	Reconnects        prometheus.Counter
	WSMessages        *prometheus.CounterVec
	DroppedCommands   prometheus.Counter
	CaptureChunks     prometheus.Counter
	PlaybackSegments  *prometheus.CounterVec
	PlaybackQueueSize prometheus.Gauge
	PhaseChanges      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Whether the chat websocket is connected (1) or not (0).",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after unexpected closes.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DroppedCommands: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_commands_total",
			Help:      "Outbound commands dropped because the socket was closed.",
		}),
		CaptureChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_chunks_total",
			Help:      "Microphone PCM chunks forwarded to the socket.",
		}),
		PlaybackSegments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Playback segments by outcome.",
		}, []string{"outcome"}),
		PlaybackQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Segments queued and not yet played.",
		}),
		PhaseChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_changes_total",
			Help:      "Pipeline phase transitions by target phase.",
		}, []string{"phase"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
