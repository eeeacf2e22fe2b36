package server

import (
	"context"
	"net/http"
	"time"

	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/feed"
	"example.com/blogfeed/internal/follow"
	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/middleware"
	"example.com/blogfeed/internal/projection"
	"example.com/blogfeed/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Settings are the server's slice of the process config.
type Settings struct {
	Addr       string
	TLSCert    string
	TLSKey     string
	JWTSecret  string
	AdminToken string
	TokenTTL   time.Duration
}

type Server struct {
	store       store.StoreInterface
	kafkaWriter appkafka.KafkaWriter
	projector   *projection.Projector
	feeds       *feed.Service
	graph       *follow.Graph
	settings    Settings
}

var logg = logger.New()

func New(st store.StoreInterface, writer appkafka.KafkaWriter, feeds *feed.Service, graph *follow.Graph, settings Settings) *Server {
	if settings.TokenTTL <= 0 {
		settings.TokenTTL = 24 * time.Hour
	}
	return &Server{
		store:       st,
		kafkaWriter: writer,
		projector:   projection.NewProjector(st),
		feeds:       feeds,
		graph:       graph,
		settings:    settings,
	}
}

// Routes builds the HTTP API.
func (s *Server) Routes() http.Handler {
	auth := middleware.JWTAuth(s.settings.JWTSecret)
	admin := middleware.AdminToken(s.settings.AdminToken)

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("POST /users", s.createUserHandler)
	mux.HandleFunc("GET /posts", s.globalFeedHandler)
	mux.HandleFunc("GET /groups/{slug}/posts", s.groupFeedHandler)
	mux.HandleFunc("GET /users/{username}/posts", s.profileFeedHandler)
	mux.HandleFunc("GET /posts/{id}", s.getPostHandler)

	// Protected endpoints with JWT authentication middleware
	mux.Handle("GET /follow/posts", auth(http.HandlerFunc(s.followingFeedHandler)))
	mux.Handle("POST /groups", auth(http.HandlerFunc(s.createGroupHandler)))
	mux.Handle("POST /posts", auth(http.HandlerFunc(s.createPostHandler)))
	mux.Handle("PUT /posts/{id}", auth(http.HandlerFunc(s.updatePostHandler)))
	mux.Handle("POST /posts/{id}/comments", auth(http.HandlerFunc(s.addCommentHandler)))
	mux.Handle("POST /users/{username}/follow", auth(http.HandlerFunc(s.followHandler)))
	mux.Handle("DELETE /users/{username}/follow", auth(http.HandlerFunc(s.unfollowHandler)))

	// Operator endpoints
	mux.Handle("POST /admin/cache/flush", admin(http.HandlerFunc(s.flushCacheHandler)))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run serves the API until ctx is done, then shuts down gracefully. TLS is
// used when both a certificate and a key are configured.
func Run(ctx context.Context, s *Server) {
	addr := s.settings.Addr
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if s.settings.TLSCert != "" && s.settings.TLSKey != "" {
			logg.Info("server", "Starting HTTPS server on "+addr)
			err = srv.ListenAndServeTLS(s.settings.TLSCert, s.settings.TLSKey)
		} else {
			logg.Info("server", "Starting HTTP server on "+addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
