package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"volumebot/config"
	"volumebot/internal/backtesting"
	"volumebot/internal/utils"
)

func main() {
	file := flag.String("file", "", "CSV file with hourly klines (required)")
	holdHours := flag.Int("hold", 10, "holding period in hours")
	funds := flag.Float64("funds", 10000, "initial funds")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	klines, err := utils.ReadKlinesFromCSV(*file)
	if err != nil {
		log.Fatalf("FATAL: Failed to load klines: %v", err)
	}
	symbol := ""
	if len(klines) > 0 {
		symbol = klines[0].Symbol
	}
	fmt.Printf("Loaded %d klines for %s from %s\n", len(klines), symbol, *file)

	result, err := backtesting.Run(klines, backtesting.Config{
		Symbol:              symbol,
		InitialFunds:        *funds,
		StakePercent:        cfg.StakePercent,
		MaxStake:            cfg.MaxStake,
		HoldHours:           *holdHours,
		StopLossEnabled:     cfg.StopLossEnabled,
		StopLossThreshold:   cfg.StopLossThreshold,
		TakeProfitEnabled:   cfg.TakeProfitEnabled,
		TakeProfitThreshold: cfg.TakeProfitThreshold,
	})
	if err != nil {
		log.Fatalf("FATAL: Backtest failed: %v", err)
	}

	fmt.Println("\n=== Backtest Results ===")
	fmt.Printf("Trades:            %d (%d wins / %d losses)\n", result.TotalTrades, result.WinningTrades, result.LosingTrades)
	fmt.Printf("Win rate:          %.1f%%\n", result.WinRate*100)
	fmt.Printf("Total profit:      %.2f\n", result.TotalProfit)
	fmt.Printf("Final balance:     %.2f (ROI %.2f%%)\n", result.FinalBalance, result.ReturnOnInvestment*100)
	fmt.Printf("Avg win / loss:    %.2f / %.2f\n", result.AverageWin, result.AverageLoss)
	fmt.Printf("Max drawdown:      %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("Avg hold:          %.1fh\n", result.AverageHoldHours)
	fmt.Println("\nExits by reason:")
	for reason, count := range result.CloseReasons {
		fmt.Printf("  %-12s %d\n", reason, count)
	}

	fmt.Println("\nMonthly P&L:")
	for _, mr := range result.GetMonthlyReturns() {
		fmt.Printf("  %s  %+.2f\n", mr.Month.Format("2006-01"), mr.Return)
	}
}
