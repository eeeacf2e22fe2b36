package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/segmentio/kafka-go"
)

// TestWorker_GracefulShutdown ensures that the worker:
// 1. Processes messages from Kafka.
// 2. Projects the posts into their timelines.
// 3. Shuts down gracefully when the context is canceled.
func TestWorker_GracefulShutdown(t *testing.T) {
	mockStore := store.NewMemory()

	moved := models.Post{
		ID:         "100",
		AuthorID:   "1",
		AuthorName: "author",
		GroupID:    "g2",
		Text:       "Shutdown test post",
		PubDate:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := mockStore.AddPost(context.Background(), moved); err != nil {
		t.Fatalf("AddPost: %v", err)
	}

	created := moved
	created.GroupID = "g1"
	createdMsg, _ := appkafka.EncodePostEvent(models.PostEvent{Type: models.PostCreated, Post: created})
	movedMsg, _ := appkafka.EncodePostEvent(models.PostEvent{Type: models.PostUpdated, Post: moved, PrevGroupID: "g1"})

	// Mock Kafka reader delivering the update before the create
	mockKafka := &MockKafkaReader{
		Messages: []kafka.Message{movedMsg, createdMsg},
	}

	// Context with timeout to simulate graceful shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	worker := New(mockStore, mockKafka, 1, 0)

	go func() {
		worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		g1, _ := mockStore.CountPosts(context.Background(), store.GroupPosts("g1"))
		g2, _ := mockStore.CountPosts(context.Background(), store.GroupPosts("g2"))
		all, _ := mockStore.CountPosts(context.Background(), store.AllPosts())
		if g1 != 0 || g2 != 1 || all != 1 {
			t.Fatalf("timelines not converged: g1=%d g2=%d all=%d", g1, g2, all)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("worker did not shutdown gracefully in time")
	}

	if err := worker.Close(); err != nil {
		t.Fatalf("worker Close() error: %v", err)
	}

	if !mockKafka.Closed {
		t.Fatal("expected Kafka reader to be closed")
	}
}

// MockKafkaReader simulates a Kafka reader for testing purposes
type MockKafkaReader struct {
	mu         sync.Mutex
	Messages   []kafka.Message // Queue of messages to return
	ShouldFail bool            // If true, ReadMessage will fail
	Closed     bool            // Tracks whether Close() has been called
}

// ReadMessage returns the next message in the queue or simulates a failure/context cancel
func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if m.ShouldFail {
		return kafka.Message{}, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		time.Sleep(5 * time.Millisecond) // simulate idle wait
		return kafka.Message{}, nil
	}

	msg := m.Messages[0]
	m.Messages = m.Messages[1:]
	return msg, nil
}

// Close marks the mock Kafka reader as closed
func (m *MockKafkaReader) Close() error {
	m.Closed = true
	return nil
}
