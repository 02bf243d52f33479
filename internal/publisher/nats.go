package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher pushes trip lifecycle events to connected clients over NATS.
// Delivery is at-least-once for connected subscribers; there is no replay.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, subjectPrefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleet-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(subjectPrefix), logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Publish sends one JSON-encoded event under <prefix>.<event>.
func (p *NATSPublisher) Publish(event string, payload any) error {
	subject := fmt.Sprintf("%s.%s", p.prefix, subjectToken(event))
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	s = strings.Trim(s, ".")
	if s == "" {
		s = "_"
	}
	return s
}
