package metrics

import (
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/relay"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "spacetraveler"

var allStatuses = []supervisor.Status{
	supervisor.StatusNotStarted,
	supervisor.StatusRunning,
	supervisor.StatusStopped,
	supervisor.StatusFailed,
}

// Collector records host activity on its own registry. It satisfies
// registry.TaskObserver, supervisor.StatusObserver and relay.Observer.
type Collector struct {
	registry *prometheus.Registry

	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	tasksRunning  prometheus.Gauge

	serviceStatus      *prometheus.GaugeVec
	serviceTransitions *prometheus.CounterVec

	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	channelsClosed *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "started_total",
				Help:      "Tasks spawned on the registry.",
			},
			[]string{"task"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "finished_total",
				Help:      "Tasks that returned, by result.",
			},
			[]string{"task", "result"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "duration_seconds",
				Help:      "Task run time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43min
			},
			[]string{"task"},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "running",
				Help:      "Tasks currently running.",
			},
		),
		serviceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "1 for the current status of each managed service.",
			},
			[]string{"service", "status"},
		),
		serviceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "transitions_total",
				Help:      "Service status transitions.",
			},
			[]string{"service", "status"},
		),
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_sent_total",
				Help:      "Frames written to relay channels.",
			},
			[]string{"key", "kind"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "frames_received_total",
				Help:      "Frames read from relay channels.",
			},
			[]string{"key", "kind"},
		),
		channelsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "channels_closed_total",
				Help:      "Relay channels torn down.",
			},
			[]string{"key"},
		),
	}

	c.registry.MustRegister(
		c.tasksStarted,
		c.tasksFinished,
		c.taskDuration,
		c.tasksRunning,
		c.serviceStatus,
		c.serviceTransitions,
		c.framesSent,
		c.framesReceived,
		c.channelsClosed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) TaskStarted(name string) {
	c.tasksStarted.WithLabelValues(name).Inc()
	c.tasksRunning.Inc()
}

func (c *Collector) TaskFinished(name string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.tasksFinished.WithLabelValues(name, result).Inc()
	c.taskDuration.WithLabelValues(name).Observe(duration.Seconds())
	c.tasksRunning.Dec()
}

func (c *Collector) ServiceStatusChanged(name string, status supervisor.Status) {
	for _, s := range allStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		c.serviceStatus.WithLabelValues(name, string(s)).Set(value)
	}
	c.serviceTransitions.WithLabelValues(name, string(status)).Inc()
}

func (c *Collector) FrameSent(key string, kind relay.FrameKind) {
	c.framesSent.WithLabelValues(key, kind.String()).Inc()
}

func (c *Collector) FrameReceived(key string, kind relay.FrameKind) {
	c.framesReceived.WithLabelValues(key, kind.String()).Inc()
}

func (c *Collector) ChannelClosed(key string) {
	c.channelsClosed.WithLabelValues(key).Inc()
}
