package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrips prometheus.Gauge

	TripsStarted   prometheus.Counter
	TripsCompleted prometheus.Counter
	TripsCancelled prometheus.Counter

	TripsRecovered prometheus.Counter
	TripsRemoved   prometheus.Counter
	SyncRuns       prometheus.Counter

	ReturnTripsCreated prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	AdvanceInterval   prometheus.Gauge // seconds
	SchedulerInterval prometheus.Gauge // seconds
	SyncInterval      prometheus.Gauge // seconds
	ReturnBuffer      prometheus.Gauge // seconds
}

func NewCollector(advanceInterval, schedulerInterval, syncInterval, returnBuffer time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of trips currently in the in-memory registry.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_completed_total",
			Help: "Total trips that reached their final stop.",
		}),
		TripsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_cancelled_total",
			Help: "Total trips stopped manually.",
		}),
		TripsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_recovered_total",
			Help: "Total trips rebuilt from the database by reconciliation.",
		}),
		TripsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_removed_total",
			Help: "Total stale registry entries removed by reconciliation.",
		}),
		SyncRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sync_runs_total",
			Help: "Total reconciliation passes executed.",
		}),
		ReturnTripsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_return_trips_created_total",
			Help: "Total automatic return trips inserted.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of position advancer ticks.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		AdvanceInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_advance_interval_seconds",
			Help: "Position advance interval in seconds.",
		}),
		SchedulerInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_scheduler_interval_seconds",
			Help: "Scheduler interval in seconds.",
		}),
		SyncInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sync_interval_seconds",
			Help: "Minimum interval between reconciliation passes in seconds.",
		}),
		ReturnBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_return_buffer_seconds",
			Help: "Buffer between arrival and return trip departure in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips,
		c.TripsStarted, c.TripsCompleted, c.TripsCancelled,
		c.TripsRecovered, c.TripsRemoved, c.SyncRuns,
		c.ReturnTripsCreated,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
		c.AdvanceInterval, c.SchedulerInterval, c.SyncInterval, c.ReturnBuffer,
	)

	c.AdvanceInterval.Set(advanceInterval.Seconds())
	c.SchedulerInterval.Set(schedulerInterval.Seconds())
	c.SyncInterval.Set(syncInterval.Seconds())
	c.ReturnBuffer.Set(returnBuffer.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
