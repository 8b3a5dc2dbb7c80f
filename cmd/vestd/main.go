package main

import (
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vestpay/config"
	"vestpay/core/ledger"
	"vestpay/core/state"
	"vestpay/crypto"
	"vestpay/native/vesting"
	"vestpay/observability"
	"vestpay/observability/logging"
	"vestpay/rpc"
	"vestpay/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the service configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "vestd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("vestd", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vestpay"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := state.NewVestingStore(db)
	book := ledger.NewLedger(db)

	engine := vesting.NewEngine()
	engine.SetState(store)
	engine.SetEmitter(observability.NewEventRecorder(logger))

	vest, err := bootstrap(cfg, store, book, engine)
	if err != nil {
		return err
	}
	escrow := state.EscrowAccountAddress(vest.ID)
	logger.Info("agreement loaded",
		"id", vest.ID.String(),
		"title", vest.Title,
		"total", vest.Total.String(),
		"denom", vest.Denom,
		"fundingStatus", vest.Funding.String(),
		"cancelStatus", vest.Cancellation.String(),
		"escrowAccount", crypto.MustNewAddress(crypto.VestPrefix, escrow[:]).String())

	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddress)
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	server := rpc.NewServer(engine, store, book, escrow, logger, rpc.ServerConfig{
		AuthToken:         cfg.RPCAuthToken,
		RequestsPerMinute: cfg.RequestsPerMinute,
		RateBurst:         cfg.RateBurst,
	})
	return server.Start(cfg.RPCAddress)
}

// bootstrap instantiates the agreement and seeds genesis balances on first
// run; later runs just load the persisted state.
func bootstrap(cfg *config.Config, store *state.VestingStore, book *ledger.Ledger, engine *vesting.Engine) (*vesting.Vest, error) {
	vest, err := store.Load()
	if err == nil {
		return vest, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load agreement state: %w", err)
	}

	agreement, err := config.LoadAgreement(cfg.AgreementFile)
	if err != nil {
		return nil, fmt.Errorf("load agreement file: %w", err)
	}
	init, err := agreement.VestInit()
	if err != nil {
		return nil, err
	}
	vest, err = engine.Initialize(init, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("initialize agreement: %w", err)
	}

	for i, balance := range cfg.GenesisBalances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(balance.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis balance %d: malformed amount %q", i, balance.Amount)
		}
		if err := book.Credit(addr.Array(), strings.TrimSpace(balance.Denom), amount); err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
	}
	return vest, nil
}
