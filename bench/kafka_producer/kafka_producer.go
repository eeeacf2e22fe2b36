package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	config "example.com/blogfeed/internal/init"
	"example.com/blogfeed/internal/models"
	"example.com/blogfeed/internal/store"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Bulk-loads posts into the configured store and publishes a post_created
// event for each, to measure how fast the worker projects them. Store and
// Kafka settings come from the same config as the service.
func main() {
	var total, batchSize, numWorkers int
	var author string
	flag.IntVar(&total, "total", 100000, "total number of posts to publish")
	flag.IntVar(&batchSize, "batch", 100, "messages per Kafka write")
	flag.IntVar(&numWorkers, "workers", 4, "number of parallel goroutines")
	flag.StringVar(&author, "author", "kafka-bench", "username the posts are published as")
	flag.Parse()

	cfg := config.Init()
	if cfg.KafkaBroker == "" {
		log.Fatal("KAFKA_BROKER must be set")
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	authorID, err := st.CreateUser(ctx, author)
	if err != nil {
		log.Fatalf("create author failed: %v", err)
	}

	// Kafka writer with asynchronous sending enabled
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{cfg.KafkaBroker},
		Topic:   cfg.KafkaTopic,
		Async:   true,
	})
	defer w.Close()

	start := time.Now()
	var successCount uint64
	var failCount uint64

	flush := func(batch []kafka.Message) {
		if err := w.WriteMessages(ctx, batch...); err != nil {
			atomic.AddUint64(&failCount, uint64(len(batch)))
			fmt.Printf("write error: %v\n", err)
			return
		}
		atomic.AddUint64(&successCount, uint64(len(batch)))
	}

	// Channel for feeding message indexes to worker goroutines
	jobs := make(chan int, numWorkers*batchSize)
	var wg sync.WaitGroup

	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			for i := range jobs {
				p := models.Post{
					ID:         uuid.Must(uuid.NewV7()).String(),
					AuthorID:   authorID,
					AuthorName: author,
					Text:       fmt.Sprintf("kafka bench %d", i),
					PubDate:    time.Now().UTC().Truncate(time.Millisecond),
				}
				if err := st.AddPost(ctx, p); err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("store error: %v\n", err)
					continue
				}

				msg, err := appkafka.EncodePostEvent(models.PostEvent{Type: models.PostCreated, Post: p})
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("marshal error: %v\n", err)
					continue
				}

				batch = append(batch, msg)
				if len(batch) >= batchSize {
					flush(batch)
					batch = batch[:0]
				}
			}

			// Send any remaining messages after finishing loop
			if len(batch) > 0 {
				flush(batch)
			}
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total posts: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount)/elapsed.Seconds())
}
