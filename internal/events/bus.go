// Package events fans out attempt lifecycle notifications to in-process
// subscribers. Delivery is best effort: a failing subscriber never affects
// the operation that published the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	TopicAttemptStarted = "attempt.started"
	TopicAttemptGraded  = "attempt.graded"
	TopicAttemptRemoved = "attempt.removed"
)

// AttemptEvent is the payload of every attempt topic.
type AttemptEvent struct {
	AttemptID   int64     `json:"attempt_id"`
	PaperID     int64     `json:"paper_id"`
	StudentName string    `json:"student_name"`
	Score       int       `json:"score"`
	At          time.Time `json:"at"`
}

// Handler processes one event. Returned errors are logged and the message
// is acknowledged anyway.
type Handler func(ctx context.Context, ev AttemptEvent) error

// Bus is an in-memory publish/subscribe channel backed by watermill.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(logger),
	)
	return &Bus{pubsub: ps, logger: logger}
}

// Publish sends an event to every subscriber of topic.
func (b *Bus) Publish(_ context.Context, topic string, ev AttemptEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe runs h for each event on topic until ctx is cancelled or the
// bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string, h Handler) error {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			var ev AttemptEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("dropping malformed event", "topic", topic, "error", err)
				msg.Ack()
				continue
			}
			if err := h(msg.Context(), ev); err != nil {
				b.logger.Warn("event handler failed", "topic", topic, "attempt_id", ev.AttemptID, "error", err)
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close stops delivery and waits for running handlers to return.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
