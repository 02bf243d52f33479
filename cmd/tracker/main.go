package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/db"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/publisher"
	"fleet-tracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	store := db.NewStore(sqlDB)

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.AdvanceInterval, cfg.SchedulerInterval, cfg.SyncInterval, cfg.ReturnBuffer)
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			// Shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Initialize NATS publisher; the tracker's loops start only once the
	// notifier is available.
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	tr := tracker.New(store, store, pub, tracker.Options{
		AdvanceInterval:   cfg.AdvanceInterval,
		SchedulerInterval: cfg.SchedulerInterval,
		SyncInterval:      cfg.SyncInterval,
		DueTripBatch:      cfg.DueTripBatch,
		AutoReturn:        cfg.AutoReturn,
		AutoStartReturn:   cfg.AutoStartReturn,
		ReturnBuffer:      cfg.ReturnBuffer,
		Metrics:           mcol,
		Now:               func() time.Time { return time.Now().In(cfg.Location) },
	})
	tr.Run(ctx)

	// Block until context cancelled, then drain background tasks
	<-ctx.Done()
	tr.Wait()
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
