package server

import (
	"context"
	"testing"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/store"
)

// TestServer_GracefulShutdown verifies that Run returns promptly once its
// context is cancelled and that the store and Kafka doubles close cleanly.
func TestServer_GracefulShutdown(t *testing.T) {
	mockStore := store.NewMemory()
	mockKafka := &appkafka.MockKafka{}
	s := New(mockStore, mockKafka, nil, nil, Settings{Addr: "127.0.0.1:0", JWTSecret: testSecret})

	// Context with a short timeout stands in for SIGTERM
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, s)
		close(done)
	}()

	select {
	case <-done:
		mockStore.Close()
		if err := mockKafka.Close(); err != nil {
			t.Fatalf("Kafka close error: %v", err)
		}
		if !mockKafka.Closed {
			t.Fatal("expected Kafka writer to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shutdown gracefully within the expected time")
	}
}
