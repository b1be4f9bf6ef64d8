package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var ErrProducerClosed = errors.New("producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox drained by one goroutine. Each
// message names its own topic.
type Producer struct {
	w     messageWriter
	log   *logrus.Logger
	inbox chan kafka.Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewProducer(brokers []string, buf int, log *logrus.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			log.WithError(err).WithFields(logrus.Fields{"topic": m.Topic, "key": string(m.Key)}).Error("kafka delivery failed")
		}
	}
	return newProducer(w, buf, log)
}

func newProducer(w messageWriter, buf int, log *logrus.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{w: w, log: log, inbox: make(chan kafka.Message, buf), done: make(chan struct{})}
}

// Start runs the writer loop. Cancelling ctx has the same effect as Close.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		stop := ctx.Done()
		for {
			select {
			case m, ok := <-p.inbox:
				if !ok {
					if err := p.w.Close(); err != nil {
						p.log.WithError(err).Warn("close kafka writer")
					}
					return
				}
				if err := p.w.WriteMessages(context.Background(), m); err != nil {
					p.log.WithError(err).WithField("topic", m.Topic).Error("kafka write failed")
				}
			case <-stop:
				stop = nil
				// Close may wait on a Publish blocked by a full inbox
				go p.Close()
			}
		}
	}()
}

// Publish queues m, blocking while the inbox is full.
func (p *Producer) Publish(ctx context.Context, m kafka.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake; queued messages are still flushed.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the queue is flushed and the writer closed.
func (p *Producer) WaitClosed() { <-p.done }
