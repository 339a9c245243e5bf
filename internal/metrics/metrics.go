// Package metrics registers the process-wide Prometheus instruments,
// grounded on runZeroInc-sockstats/pkg/exporter's Collector pattern —
// expressed here as plain registered metric vars rather than a
// pull-time Collector, since the measured state already lives in the
// owning packages (transport, lifecycle, observe) rather than behind a
// syscall read at scrape time.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lwm2m",
		Name:      "messages_sent_total",
		Help:      "Datagrams sent by the message engine.",
	})
	MessagesRetransmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lwm2m",
		Name:      "messages_retransmitted_total",
		Help:      "Confirmable messages retransmitted.",
	})
	MessagesTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lwm2m",
		Name:      "messages_timed_out_total",
		Help:      "Confirmable messages that exhausted their retransmit budget.",
	})
	Registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lwm2m",
		Name:      "registrations_total",
		Help:      "Successful registrations against operational servers.",
	})
	ObserverCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lwm2m",
		Name:      "observers",
		Help:      "Currently registered observers.",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lwm2m",
		Name:      "queue_depth",
		Help:      "In-flight confirmable messages awaiting a response.",
	})
)

// Register adds every metric to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		MessagesSent, MessagesRetransmitted, MessagesTimedOut,
		Registrations, ObserverCount, QueueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
