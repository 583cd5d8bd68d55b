package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Flush() error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc      Conn
	subject string
	log     *zap.Logger
}

func NewNATSPublisher(url, subject string, log *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("citybike-importer"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return NewWithConn(nc, subject, log), nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(nc Conn, subject string, log *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subjectPrefix(subject), log: log}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// ProgressMessage is emitted after every committed batch.
type ProgressMessage struct {
	RunID     string    `json:"runId"`
	Table     string    `json:"table"`
	Batch     int       `json:"batch"`
	Rows      int       `json:"rows"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// RunMessage is emitted once when a run ends.
type RunMessage struct {
	RunID      string    `json:"runId"`
	Status     string    `json:"status"` // completed|failed
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Read       int       `json:"read"`
	Invalid    int       `json:"invalid"`
	Duplicates int       `json:"duplicates"`
	Inserted   int       `json:"inserted"`
	Batches    int       `json:"batches"`
	Stations   int       `json:"stations"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (p *NATSPublisher) PublishProgress(msg ProgressMessage) error {
	return p.publish(p.subject+".progress", msg)
}

// PublishRun publishes the final status and flushes so it is not lost on exit.
func (p *NATSPublisher) PublishRun(msg RunMessage) error {
	if err := p.publish(p.subject+"."+subjectToken(msg.Status), msg); err != nil {
		return err
	}
	return p.nc.Flush()
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.log.Debug("nats publish", zap.String("subject", subject))
	return p.nc.Publish(subject, b)
}

func subjectPrefix(s string) string {
	parts := strings.Split(strings.Trim(s, "."), ".")
	for i, part := range parts {
		parts[i] = subjectToken(part)
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
