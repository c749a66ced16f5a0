// Package report publishes finished run cycles to Kafka for offline analysis.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/criyle/go-rtide/ide"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// Config configures the Kafka run report publisher
type Config struct {
	Brokers []string
	Topic   string
	// PublishTimeout bounds one asynchronous publish
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

// Publisher writes run reports to a Kafka topic
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	closing bool
	pending sync.WaitGroup
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration
func NewPublisher(conf Config) (*Publisher, error) {
	if len(conf.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if conf.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(conf.Brokers...),
		Topic:                  conf.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newPublisher(writer, conf.PublishTimeout, conf.Logger), nil
}

func newPublisher(writer messageWriter, timeout time.Duration, logger *zap.Logger) *Publisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, timeout: timeout, logger: logger}
}

// Publish serializes and writes the report. Messages are keyed by session so
// the runs of one session stay ordered.
func (p *Publisher) Publish(ctx context.Context, rp ide.RunReport) error {
	payload, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	key := rp.SessionID
	if key == "" {
		key = rp.RunID
	}
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  rp.Finished,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Observe publishes rp in the background. It matches ide.Config.RunObserver
// and never blocks the run cycle; failures are logged. Reports observed after
// Close are dropped.
func (p *Publisher) Observe(rp ide.RunReport) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		p.logger.Warn("run report dropped after close", zap.String("runId", rp.RunID))
		return
	}
	p.pending.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, rp); err != nil {
			p.logger.Warn("publish run report failed", zap.String("runId", rp.RunID), zap.Error(err))
		}
	}()
}

// Close waits for pending publishes until ctx is done and releases the
// underlying Kafka writer
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for pending run reports: %w", ctx.Err())
	}
	return errors.Join(err, p.writer.Close())
}
