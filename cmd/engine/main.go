// Command engine runs the multi-tenant mock Solana-compatible JSON-RPC
// runtime: it wires the store, cache, sysvar and execution components
// (internal/accountview ... internal/vm) into the transaction pipeline,
// starts the background block producer, and serves the HTTP/WebSocket
// transport until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"

	"github.com/web3-fighter/svm-mock-engine/internal/blockproducer"
	"github.com/web3-fighter/svm-mock-engine/internal/config"
	"github.com/web3-fighter/svm-mock-engine/internal/fee"
	"github.com/web3-fighter/svm-mock-engine/internal/pipeline"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/rpcserver"
	"github.com/web3-fighter/svm-mock-engine/internal/serializer"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/cache"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/memory"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/postgres"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
	"github.com/web3-fighter/svm-mock-engine/internal/upstream"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
	"github.com/web3-fighter/svm-mock-engine/internal/wsserver"
)

func main() {
	handler := ethlog.NewTerminalHandler(os.Stderr, false)
	ethlog.SetDefault(ethlog.NewLogger(handler))

	cfg, err := config.Load("config.yaml")
	if err != nil {
		ethlog.Crit("engine: failed to load configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		ethlog.Crit("engine: failed to open store", "err", err)
	}
	defer closeStore()

	memCache, err := openCache(cfg.CacheURL)
	if err != nil {
		ethlog.Crit("engine: failed to open cache", "err", err)
	}
	engineCache := cache.New(memCache, store)

	sysvars := sysvar.New()
	rentOracle := rent.New(sysvars.GetRent())
	feeCalc := fee.New(fee.Params{LamportsPerSignature: cfg.LamportsPerSignature}, rentOracle)
	// No on-chain BPF interpreter is wired (out of scope): vm.Host falls
	// back to an instruction error for any program that isn't one of the
	// bundled built-ins.
	vmHost := vm.New(nil)
	pipe := pipeline.New(store, engineCache, sysvars, rentOracle, feeCalc, vmHost)

	producer := blockproducer.New(store, engineCache)
	go producer.Run(ctx, time.Duration(cfg.BlockProductionIntervalMS)*time.Millisecond)

	ser := serializer.New()
	defer ser.Stop()

	eng := &rpcserver.Engine{Store: store, Pipe: pipe, Fee: feeCalc, Rent: rentOracle, Serializer: ser}
	mgmt := &rpcserver.Management{Store: store, Producer: producer, GenesisLamports: cfg.GenesisLamports}
	ws := wsserver.New(engineCache, store)
	up := upstream.New(cfg.UpstreamRPCURL)

	srv := rpcserver.New(rpcserver.Methods(eng), mgmt.Handlers(), store, ws, up)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		ethlog.Info("engine: listening", "addr", cfg.RPCAddr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ethlog.Crit("engine: server failed", "err", err)
		}
	}()

	<-ctx.Done()
	ethlog.Info("engine: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		ethlog.Warn("engine: graceful shutdown failed", "err", err)
	}
}

// openStore selects the in-memory backend for local/test use
// ("memory://") and the Postgres backend otherwise, tagging the result
// the way internal/storage's Tagged dispatch expects.
func openStore(ctx context.Context, databaseURL string) (*storage.Tagged, func(), error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		return storage.NewMemory(memory.New()), func() {}, nil
	}
	pg, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgres(pg), pg.Close, nil
}

// openCache connects to redis unless CACHE_URL opts out with "none://",
// in which case every internal/storage/cache method falls back directly
// to the store, per its nil-rdb handling.
func openCache(cacheURL string) (*redis.Client, error) {
	if cacheURL == "none://" {
		return nil, nil
	}
	return cache.Connect(cacheURL)
}
