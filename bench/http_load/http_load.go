package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"example.com/blogfeed/bench/stats"
)

// UserResp represents the response returned by the server after user creation
type UserResp struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Hammers one feed endpoint with concurrent page reads. With the default
// settings most reads of /posts are page cache hits.
func main() {
	// --- Command-line flags ---
	var server string
	var path string
	var pages int
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64
	var insecure bool
	var auth bool

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.StringVar(&path, "path", "/posts", "feed path to read, e.g. /groups/cats/posts or /follow/posts")
	flag.IntVar(&pages, "pages", 3, "spread reads over pages 1..N")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.BoolVar(&auth, "auth", false, "create a user per goroutine and send its token (needed for /follow/posts)")
	flag.Parse()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
		Timeout: 10 * time.Second,
	}

	// --- Create users for each goroutine ---
	tokens := make([]string, concurrency)
	if auth {
		fmt.Printf("Creating %d users...\n", concurrency)
		for i := 0; i < concurrency; i++ {
			payload := map[string]string{"username": fmt.Sprintf("load-user-%d-%d", i, time.Now().UnixNano())}
			b, _ := json.Marshal(payload)

			resp, err := client.Post(server+"/users", "application/json", bytes.NewReader(b))
			if err != nil {
				panic(fmt.Sprintf("failed to create user: %v", err))
			}
			var ur UserResp
			if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
				resp.Body.Close()
				panic(fmt.Sprintf("failed to decode user response: %v", err))
			}
			resp.Body.Close()
			tokens[i] = ur.Token
		}
		fmt.Println("Users created.")
	}

	// --- Prepare concurrency test ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	// Atomic counters for thread-safe tracking
	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency) // each goroutine records latencies

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			var localLatencies []float64

			for time.Now().Before(stopTime) {
				url := fmt.Sprintf("%s%s?page=%d", server, path, 1+rand.Intn(max(pages, 1)))
				req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
				if tokens[idx] != "" {
					req.Header.Set("Authorization", "Bearer "+tokens[idx])
				}

				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					atomic.AddInt64(&requests, 1)
					fmt.Printf("Request error: %v\n", err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				localLatencies = append(localLatencies, time.Since(start).Seconds()*1000)
				atomic.AddInt64(&requests, 1)

				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					atomic.AddInt64(&successes, 1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					atomic.AddInt64(&errors4xx, 1)
				case resp.StatusCode >= 500:
					atomic.AddInt64(&errors5xx, 1)
				}
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}

	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Throughput: %.1f req/s\n", float64(requests)/float64(duration))
	fmt.Printf("Latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n",
		stats.TrimmedMean(allLatencies, trimPercent),
		stats.Percentile(allLatencies, 50),
		stats.Percentile(allLatencies, 90),
		stats.Percentile(allLatencies, 99))

	if err := stats.WriteCSV(csvFile, allLatencies); err != nil {
		fmt.Printf("Failed to write CSV file: %v\n", err)
		return
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}
