// Command syncd runs the ledger mirror: the event poller plus the read-only
// HTTP surface over the synchronized store.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain/eth"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/httpapi"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/indexer"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/obs"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/store/pg"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/stream"
)

var version = "0.3.0"

type config struct {
	pgDSN        string
	ethRPCURL    string
	contractAddr string
	pollInterval time.Duration
	maxWindow    uint64
	httpAddr     string
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("MEDSYNC_COMMIT"))

	cfg := configFromEnv()
	if cfg.pgDSN == "" {
		log.Fatal("missing MEDSYNC_PG_DSN")
	}
	if cfg.ethRPCURL == "" {
		log.Fatal("missing MEDSYNC_ETH_RPC_URL")
	}
	if cfg.contractAddr == "" {
		log.Fatal("missing MEDSYNC_CONTRACT_ADDR")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	store, err := pg.Open(cfg.pgDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Ping(startCtx); err != nil {
		log.Fatalf("ping store: %v", err)
	}

	chainClient, err := eth.Dial(startCtx, cfg.ethRPCURL, cfg.contractAddr)
	if err != nil {
		log.Fatalf("dial ledger rpc: %v", err)
	}
	defer chainClient.Close()
	head, err := chainClient.Head(startCtx)
	if err != nil {
		log.Fatalf("read chain head: %v", err)
	}
	log.Printf("connected to ledger, head block %d", head)

	notifications := stream.New()

	poller := indexer.New(chainClient, store,
		indexer.WithInterval(cfg.pollInterval),
		indexer.WithMaxWindow(cfg.maxWindow),
		indexer.WithStream(notifications),
	)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go poller.Run(runCtx)

	api := httpapi.New(httpapi.ReadyProbe{Pinger: store}, version, store, chainClient, notifications)

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting medsync %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// configFromEnv reads settings from env. Only the DSN, RPC URL and contract
// address are mandatory.
func configFromEnv() config {
	cfg := config{
		pgDSN:        os.Getenv("MEDSYNC_PG_DSN"),
		ethRPCURL:    os.Getenv("MEDSYNC_ETH_RPC_URL"),
		contractAddr: os.Getenv("MEDSYNC_CONTRACT_ADDR"),
		pollInterval: indexer.DefaultInterval,
		maxWindow:    indexer.DefaultMaxWindow,
		httpAddr:     ":8080",
	}
	if s := os.Getenv("MEDSYNC_POLL_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			cfg.pollInterval = d
		}
	}
	if s := os.Getenv("MEDSYNC_MAX_WINDOW"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > 0 {
			cfg.maxWindow = n
		}
	}
	if addr := os.Getenv("MEDSYNC_HTTP_ADDR"); addr != "" {
		cfg.httpAddr = addr
	}
	return cfg
}
