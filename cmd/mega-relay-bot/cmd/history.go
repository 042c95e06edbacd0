package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mega-relay-bot/internal/helpers"
	"mega-relay-bot/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transfers",
	Long:  `Prints the transfer history recorded by the bot, newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show (0 shows all)")
}

func runHistory(_ *cobra.Command, _ []string) error {
	store, err := history.Open(globalConfig.HistoryPath)
	if err != nil {
		return fmt.Errorf("opening transfer history: %w", err)
	}
	defer store.Close()

	entries, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("reading transfer history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No transfers recorded yet.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-40s %12s  chat %d\n",
			e.CompletedAt.Format("2006-01-02 15:04:05"),
			e.FileName,
			helpers.BytesToSize(e.Size),
			e.ChatID)
	}
	return nil
}
