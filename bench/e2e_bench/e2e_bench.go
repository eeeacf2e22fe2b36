package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"example.com/blogfeed/bench/stats"
)

// UserResp represents the server's response when a user is created.
type UserResp struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type benchUser struct {
	UserResp
	Name string
}

// PostReq defines the request payload for creating a new post.
type PostReq struct {
	Text string `json:"text"`
}

// Post represents a post entity returned by the API.
type Post struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"author_id"`
	PubDate  time.Time `json:"pub_date"`
}

// FeedPage is the part of a feed page the bench reads.
type FeedPage struct {
	Posts []Post `json:"posts"`
}

// Measures how long a new post takes to show up in followers' following
// feeds: projection delay plus any page cache staleness.
func main() {
	// CLI flags
	var serverAddr string
	var U, F, P, concurrency int
	var pollTimeout int
	var insecure bool

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&U, "users", 50, "number of users to create")
	flag.IntVar(&F, "follows", 10, "average follows per user")
	flag.IntVar(&P, "posts", 100, "number of posts to publish")
	flag.IntVar(&concurrency, "c", 20, "concurrency for posting")
	flag.IntVar(&pollTimeout, "timeout", 30, "seconds to wait for post delivery")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.Parse()

	ctx := context.Background()
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
		Timeout: 10 * time.Second,
	}

	// --- 1) Create users ---
	fmt.Printf("Creating %d users...\n", U)
	users := make([]benchUser, 0, U)
	for i := 0; i < U; i++ {
		name := fmt.Sprintf("user-%d-%d", i, time.Now().UnixNano())
		b, _ := json.Marshal(map[string]string{"username": name})

		resp, err := client.Post(serverAddr+"/users", "application/json", bytes.NewReader(b))
		if err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}

		var ur UserResp
		if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
			resp.Body.Close()
			fmt.Printf("decode user resp error: %v\n", err)
			os.Exit(1)
		}
		resp.Body.Close()
		users = append(users, benchUser{UserResp: ur, Name: name})
	}
	fmt.Println("Users created successfully.")

	userTokens := make(map[string]string, len(users))
	for _, u := range users {
		userTokens[u.UserID] = u.Token
	}

	// --- 2) Create follow relationships between users ---
	fmt.Printf("Creating follows (~%d per user)...\n", F)
	followers := make(map[string]map[string]bool)
	for _, u := range users {
		for j := 0; j < F; j++ {
			followee := users[rand.Intn(len(users))]
			if followee.UserID == u.UserID {
				continue
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+"/users/"+followee.Name+"/follow", nil)
			req.Header.Set("Authorization", "Bearer "+u.Token)

			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("follow error: %v\n", err)
				os.Exit(1)
			}
			resp.Body.Close()
			if followers[followee.UserID] == nil {
				followers[followee.UserID] = map[string]bool{}
			}
			followers[followee.UserID][u.UserID] = true
		}
	}
	fmt.Println("Follow relationships established.")

	// --- 3) Publish posts concurrently ---
	fmt.Printf("Publishing %d posts with concurrency %d...\n", P, concurrency)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	postsCh := make(chan Post, P)

	for i := 0; i < P; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			author := users[rand.Intn(len(users))]
			b, _ := json.Marshal(PostReq{Text: fmt.Sprintf("post %d", rand.Int())})

			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+"/posts", bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+author.Token)

			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("post error: %v\n", err)
				return
			}
			var p Post
			if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
				resp.Body.Close()
				fmt.Printf("decode post error: %v\n", err)
				return
			}
			resp.Body.Close()
			postsCh <- p
		}()
	}

	wg.Wait()
	close(postsCh)

	// --- 4) Verify post delivery to followers' feeds ---
	fmt.Println("Checking feed delivery...")
	var latencies []float64
	var latMu sync.Mutex
	var failCount int64
	var checksWg sync.WaitGroup

	for p := range postsCh {
		for fid := range followers[p.AuthorID] {
			checksWg.Add(1)
			go func(p Post, token string) {
				defer checksWg.Done()
				deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)

				// Poll the following feed until the post appears or timeout
				for time.Now().Before(deadline) {
					if feedHas(ctx, client, serverAddr, token, p.ID) {
						latMu.Lock()
						latencies = append(latencies, time.Since(p.PubDate).Seconds()*1000)
						latMu.Unlock()
						return
					}
					time.Sleep(200 * time.Millisecond)
				}

				latMu.Lock()
				failCount++
				latMu.Unlock()
			}(p, userTokens[fid])
		}
	}

	checksWg.Wait()

	// --- 5) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	trimPercent := 1.0
	fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d\n",
		len(latencies),
		stats.TrimmedMean(latencies, trimPercent),
		stats.TrimmedPercentile(latencies, 50, trimPercent),
		stats.TrimmedPercentile(latencies, 90, trimPercent),
		stats.TrimmedPercentile(latencies, 99, trimPercent),
		failCount)

	if err := stats.WriteCSV("e2e_latencies.csv", latencies); err != nil {
		fmt.Printf("Failed to write CSV: %v\n", err)
		return
	}
	fmt.Println("Saved e2e_latencies.csv")
}

// feedHas reports whether postID is on the first page of the following feed.
func feedHas(ctx context.Context, client *http.Client, serverAddr, token, postID string) bool {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, serverAddr+"/follow/posts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var page FeedPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return false
	}
	for _, pp := range page.Posts {
		if pp.ID == postID {
			return true
		}
	}
	return false
}
