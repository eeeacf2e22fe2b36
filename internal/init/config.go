package config

import (
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

type Config struct {
	// App mode & server
	Mode        string
	ServerAddr  string
	TLSCert     string
	TLSKey      string
	JWTSecret   string
	AdminToken  string
	LogLevel    string
	StoreDriver string

	// Feeds & page cache
	FeedPageSize       int
	CacheTTL           time.Duration
	CacheFeeds         map[string]bool
	CacheSweepInterval time.Duration
	CacheMaxPage       int

	// Worker
	WorkerCount     int
	WorkerQueueSize int

	// Kafka
	KafkaBroker    string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaPartition int
	KafkaReadTO    time.Duration
	KafkaWriteTO   time.Duration

	// Cassandra
	CassandraHost     string
	CassandraKeyspace string
	CassandraUsername string
	CassandraPassword string
	CassandraTimeout  time.Duration
	CassandraDC       string

	// SQLite
	SQLitePath string
}

var cfg *Config

// Init loads the config using Viper and returns it
func Init() *Config {
	viper.SetDefault("MODE", "server")
	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", "cassandra")

	viper.SetDefault("FEED_PAGE_SIZE", 10)
	viper.SetDefault("CACHE_TTL", "20s")
	viper.SetDefault("CACHE_FEEDS", "global")
	viper.SetDefault("CACHE_SWEEP_INTERVAL", "1m")
	viper.SetDefault("CACHE_MAX_PAGE", 100)

	viper.SetDefault("WORKER_COUNT", 0)
	viper.SetDefault("WORKER_QUEUE_SIZE", 0)

	viper.SetDefault("KAFKA_BROKER", "") // empty: project timelines in-process
	viper.SetDefault("KAFKA_TOPIC", "post-events")
	viper.SetDefault("KAFKA_GROUP_ID", "timeline-projector")
	viper.SetDefault("KAFKA_PARTITION", 0)
	viper.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	viper.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")

	viper.SetDefault("CASSANDRA_HOST", "localhost")
	viper.SetDefault("CASSANDRA_KEYSPACE", "blogfeed")
	viper.SetDefault("CASSANDRA_TIMEOUT", "10s")
	// Optional: Cassandra username/password/DC can be empty

	viper.SetDefault("SQLITE_PATH", "blogfeed.db")

	// Load env variables
	viper.AutomaticEnv()

	// Optional config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	_ = viper.ReadInConfig() // ignore error if no file

	cfg = &Config{
		Mode:               viper.GetString("MODE"),
		ServerAddr:         viper.GetString("SERVER_ADDR"),
		TLSCert:            viper.GetString("TLS_CERT"),
		TLSKey:             viper.GetString("TLS_KEY"),
		JWTSecret:          viper.GetString("JWT_SECRET"),
		AdminToken:         viper.GetString("ADMIN_TOKEN"),
		LogLevel:           viper.GetString("LOG_LEVEL"),
		StoreDriver:        strings.ToLower(viper.GetString("STORE_DRIVER")),
		FeedPageSize:       positiveInt(viper.GetInt("FEED_PAGE_SIZE"), 10),
		CacheTTL:           parseDuration(viper.GetString("CACHE_TTL"), 20*time.Second),
		CacheFeeds:         ParseFeedSet(viper.GetString("CACHE_FEEDS")),
		CacheSweepInterval: parseDuration(viper.GetString("CACHE_SWEEP_INTERVAL"), time.Minute),
		CacheMaxPage:       positiveInt(viper.GetInt("CACHE_MAX_PAGE"), 100),
		WorkerCount:        viper.GetInt("WORKER_COUNT"),
		WorkerQueueSize:    viper.GetInt("WORKER_QUEUE_SIZE"),
		KafkaBroker:        viper.GetString("KAFKA_BROKER"),
		KafkaTopic:         viper.GetString("KAFKA_TOPIC"),
		KafkaGroupID:       viper.GetString("KAFKA_GROUP_ID"),
		KafkaPartition:     viper.GetInt("KAFKA_PARTITION"),
		KafkaReadTO:        parseDuration(viper.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:       parseDuration(viper.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		CassandraHost:      viper.GetString("CASSANDRA_HOST"),
		CassandraKeyspace:  viper.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername:  viper.GetString("CASSANDRA_USERNAME"),
		CassandraPassword:  viper.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:   parseDuration(viper.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:        viper.GetString("CASSANDRA_DC"),
		SQLitePath:         viper.GetString("SQLITE_PATH"),
	}

	return cfg
}

// ParseFeedSet turns "global, group" into {"global": true, "group": true}.
func ParseFeedSet(s string) map[string]bool {
	names := lo.Compact(lo.Map(strings.Split(s, ","), func(n string, _ int) string {
		return strings.ToLower(strings.TrimSpace(n))
	}))
	return lo.SliceToMap(names, func(n string) (string, bool) { return n, true })
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func positiveInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Get returns the loaded config instance
func Get() *Config {
	return cfg
}
