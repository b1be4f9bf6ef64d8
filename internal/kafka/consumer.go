package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          messageReader
	workers    int
	log        *logrus.Logger
	backoff    time.Duration
	maxBackoff time.Duration
	// attempts per message before it is committed as undeliverable
	maxAttempts int
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *logrus.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:           r,
		workers:     workers,
		log:         log,
		backoff:     200 * time.Millisecond,
		maxBackoff:  10 * time.Second,
		maxAttempts: 8,
	}
}

// Start fetches until ctx ends or the reader fails. Messages of one
// partition always go to the same worker, so commits within a partition
// stay in offset order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.WithError(err).Warn("close kafka reader")
		}
	}()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		lane := lanes[laneFor(m, c.workers)]
		select {
		case lane <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process retries h on the same message until it succeeds. Offsets are
// watermarks, so moving on without a commit would still lose m once a later
// message of the partition commits. After maxAttempts the message is
// committed as undeliverable.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	fields := logrus.Fields{"topic": m.Topic, "partition": m.Partition, "offset": m.Offset}
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		entry := c.log.WithError(err).WithFields(fields).WithField("attempt", attempt)
		if attempt >= c.maxAttempts {
			entry.Error("handle message: giving up, skipping")
			break
		}
		entry.Warn("handle message: retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		wait = min(wait*2, c.maxBackoff)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.WithError(err).WithFields(fields).Error("commit message")
	}
}

func laneFor(m kafka.Message, n int) int {
	h := uint32(m.Partition)
	for _, b := range []byte(m.Topic) {
		h = h*31 + uint32(b)
	}
	return int(h % uint32(n))
}
