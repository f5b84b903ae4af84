package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/gateway"
	"pm-updown-bot/internal/logging"
	"pm-updown-bot/internal/state"
	"pm-updown-bot/internal/state/sqlite"
)

const defaultVerifyEnvFile = ".env"

// verify exercises the gateway credentials and the checkpoint store
// without starting the control plane: it fetches the collateral
// balance, probes book depth for a token, and prints any checkpointed
// ledgers.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	tokenID := flag.String("token", "", "optional token id to probe book depth for")
	ledgersOnly := flag.Bool("ledgers", false, "print checkpointed ledgers and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *ledgersOnly {
		printLedgers(ctx, cfg.State.SQLitePath)
		return
	}

	creds := gateway.Creds{
		Key:        strings.TrimSpace(os.Getenv("PM_API_KEY")),
		Secret:     strings.TrimSpace(os.Getenv("PM_API_SECRET")),
		Passphrase: strings.TrimSpace(os.Getenv("PM_API_PASSPHRASE")),
	}
	privateKey := strings.TrimSpace(os.Getenv("PM_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("PM_PRIVATE_KEY is required"))
	}
	gw, err := gateway.NewClient(cfg.Gateway, creds, privateKey, log)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("gateway address: %s\n", gw.Address())

	balance, err := gw.Balance(ctx)
	if err != nil {
		fatal(fmt.Errorf("balance fetch failed: %w", err))
	}
	fmt.Printf("collateral balance: %.2f USDC\n", balance)

	probe := *tokenID
	if probe == "" && len(cfg.Markets) > 0 {
		probe = cfg.Markets[0].UpTokenID
	}
	if probe != "" {
		depth, err := gw.BookDepth(ctx, probe)
		if err != nil {
			fatal(fmt.Errorf("book depth fetch failed: %w", err))
		}
		fmt.Printf("book depth for %s: has_liquidity=%t best_ask=%.4f ask_volume=%.2f\n",
			probe, depth.HasLiquidity, depth.BestAsk, depth.AskVolume)
	}

	printLedgers(ctx, cfg.State.SQLitePath)
}

func printLedgers(ctx context.Context, path string) {
	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	ledgers, err := state.LoadLedgers(ctx, store)
	if err != nil {
		fatal(err)
	}
	if len(ledgers) == 0 {
		fmt.Println("no checkpointed ledgers")
		return
	}
	for market, led := range ledgers {
		fmt.Printf("ledger %s: up=%.2f down=%.2f paired=%.2f unpaired=%.2f invested=%.2f\n",
			market, led.UpShares, led.DownShares, led.PairedShares(), led.UnpairedShares(),
			led.UpInvested+led.DownInvested)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
