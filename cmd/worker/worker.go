package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"runtime"
	"sync"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/projection"
	"example.com/blogfeed/internal/store"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Worker consumes post events from Kafka and projects them into the store's
// timelines concurrently.
type Worker struct {
	store        store.StoreInterface
	reader       appkafka.KafkaReader
	projector    *projection.Projector
	workerCount  int
	jobQueueSize int
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(st store.StoreInterface, reader appkafka.KafkaReader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		store:        st,
		reader:       reader,
		projector:    projection.NewProjector(st),
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run starts message reading and concurrent processing.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}
	if w.projector == nil {
		w.projector = projection.NewProjector(w.store)
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	// One queue per processor; a post's events always land on the same one.
	queues := make([]chan kafka.Message, w.workerCount)
	var wg sync.WaitGroup

	for i := range queues {
		queues[i] = make(chan kafka.Message, max(w.jobQueueSize/w.workerCount, 1))
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}(queues[i])
	}

	w.readLoop(ctx, queues)

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes each into the queue its key
// routes to.
func (w *Worker) readLoop(ctx context.Context, queues []chan kafka.Message) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			jobs := queues[route(msg.Key, len(queues))]
			for enqueued := false; !enqueued; {
				select {
				case jobs <- msg:
					enqueued = true
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
					logg.Info("worker", "Queue full, waiting to enqueue Kafka message")
				}
			}
		}
	}
}

// processLoop projects queued events. Bad events are logged and dropped;
// store failures are logged and the event is skipped.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.handle(ctx, msg); err != nil {
				if errors.Is(err, appkafka.ErrBadEvent) {
					logg.Error("worker", "Dropping malformed post event", err)
				} else {
					logg.Error("worker", "Failed to project post event", err)
				}
				continue
			}
			logg.Debug("worker", "Post event projected (post ID anonymized)")
		}
	}
}

// route picks the processor for a message key (the post id), so events for
// one post are applied in the order they were read.
func route(key []byte, n int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	return w.projector.ApplyMessage(ctx, msg)
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader and the store.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}

	logg.Info("worker", "Closing store")
	w.store.Close()
	return nil
}
