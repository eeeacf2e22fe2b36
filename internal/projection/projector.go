// Package projection keeps the timeline buckets in step with post writes.
package projection

import (
	"context"
	"errors"
	"fmt"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Indexer is the part of the store the projector needs.
type Indexer interface {
	IndexPost(ctx context.Context, postID string) error
}

type Projector struct {
	store Indexer
}

func NewProjector(st Indexer) *Projector {
	return &Projector{store: st}
}

// Apply projects the stored version of the post named by ev, never the event
// copy, so replayed, reordered or concurrent events converge on its current
// group. Events for posts the store does not hold are skipped: a timeline
// entry must always resolve to a post.
func (p *Projector) Apply(ctx context.Context, ev models.PostEvent) error {
	err := p.store.IndexPost(ctx, ev.Post.ID)
	if errors.Is(err, store.ErrNotFound) {
		logg.Info("projection", "Skipped "+ev.Type+" for a post the store does not hold")
		return nil
	}
	if err != nil {
		return fmt.Errorf("index post: %w", err)
	}
	logg.Debug("projection", "Projected "+ev.Type+" into timelines")
	return nil
}

// ApplyMessage decodes a Kafka message and applies it.
func (p *Projector) ApplyMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := appkafka.DecodePostEvent(msg)
	if err != nil {
		return err
	}
	return p.Apply(ctx, ev)
}

// InlineWriter stands in for the Kafka writer when no broker is configured:
// each written event is projected before WriteMessages returns.
type InlineWriter struct {
	Projector *Projector
}

var _ appkafka.KafkaWriter = (*InlineWriter)(nil)

func (w *InlineWriter) WriteMessages(messages ...kafka.Message) error {
	for _, msg := range messages {
		if err := w.Projector.ApplyMessage(context.Background(), msg); err != nil {
			logg.Error("projection", "Inline projection failed", err)
			return err
		}
	}
	return nil
}

func (w *InlineWriter) Close() error { return nil }
