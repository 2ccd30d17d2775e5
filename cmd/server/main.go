/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee accounting engine server. Handles
  configuration, dependency injection, and graceful shutdown. Every
  dependency is constructed here and passed down explicitly; nothing
  is a package-level singleton.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (SQLite, or PostgreSQL when DATABASE_URL is set)
  3. Initialize the event publisher (Kafka when KAFKA_BROKERS is set)
  4. Wire the ledger, structure service, balance calculator and gateway
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: fees.db)
           Use ":memory:" for in-memory database

ENVIRONMENT (overrides flags where both exist):
  PORT             HTTP server port
  DATABASE_URL     PostgreSQL connection string; selects Postgres over SQLite
  KAFKA_BROKERS    Comma-separated broker list; enables event publishing
  MPESA_BASE_URL   Provider API base URL; enables STK push initiation

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the publisher and database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fees.db"

  # Run against PostgreSQL with Kafka events
  DATABASE_URL="postgres://..." KAFKA_BROKERS="localhost:9092" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite, store/postgres: Database implementations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/elimisha/fees-engine/api"
	"github.com/elimisha/fees-engine/events"
	eventskafka "github.com/elimisha/fees-engine/events/kafka"
	"github.com/elimisha/fees-engine/fees"
	"github.com/elimisha/fees-engine/gateway"
	"github.com/elimisha/fees-engine/store/postgres"
	"github.com/elimisha/fees-engine/store/sqlite"
)

// backend is the full storage surface the wiring needs, satisfied by
// both SQL stores.
type backend interface {
	fees.TxStore
	api.Directory
	api.Resetter
	Close() error
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "fees.db", "SQLite database path")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			*port = n
		}
	}

	// Store: PostgreSQL when configured, SQLite otherwise.
	var (
		store backend
		err   error
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		store, err = postgres.New(dsn)
		log.Println("Using PostgreSQL store")
	} else {
		store, err = sqlite.New(*dbPath)
		log.Printf("Using SQLite store at %s", *dbPath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Event publisher: Kafka when configured, no-op otherwise.
	var publisher events.Publisher = events.Nop{}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kp := eventskafka.NewPublisher(strings.Split(brokers, ","), events.TopicPaymentRecorded)
		defer kp.Close()
		publisher = kp
		log.Printf("Publishing payment events to %s", brokers)
	}

	// Domain services
	policy := fees.SchoolPolicy{}
	ledger := fees.NewLedger(store, store, policy, publisher)
	structures := fees.NewStructureService(store, policy)
	balances := fees.NewBalanceCalculator(store, store)
	ingestor := gateway.NewIngestor(store, store, ledger, nil)

	var push *gateway.PushClient
	if base := os.Getenv("MPESA_BASE_URL"); base != "" {
		push = gateway.NewPushClient(base)
	}

	handler := &api.Handler{
		Ledger:     ledger,
		Structures: structures,
		Balances:   balances,
		Directory:  store,
		Ingestor:   ingestor,
		Push:       push,
		Resetter:   store,
	}

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
