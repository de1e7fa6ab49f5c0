package main

import (
	"context"
	"fmt"
	"os"

	"ladder-bot-go/internal/config"
	"ladder-bot-go/internal/persistence"
	"ladder-bot-go/internal/reporter"
	"ladder-bot-go/internal/storage"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted strategy state (the bot must not be running)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showStatus(cmd.Context(), history)
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also print the last N order events from the ledger")
	return cmd
}

func showStatus(ctx context.Context, history int) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath, cfg.BotID)
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := repo.LoadState()
	if err != nil {
		return err
	}
	reporter.RenderState(os.Stdout, st)

	if history <= 0 || st == nil || st.Strategy == nil {
		return nil
	}
	ledger, err := storage.NewLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	events, err := ledger.History(ctx, st.Strategy.ID, 0)
	if err != nil {
		return err
	}
	if len(events) > history {
		events = events[len(events)-history:]
	}
	reporter.RenderHistory(os.Stdout, events)
	return nil
}
