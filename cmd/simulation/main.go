package main

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/broker"
	"github.com/as950118/auto-trade/internal/database"
	"github.com/as950118/auto-trade/internal/portfolio"
	"github.com/as950118/auto-trade/internal/profit"
	"github.com/as950118/auto-trade/internal/trading"
	"github.com/as950118/auto-trade/internal/types"
)

const (
	minOrders = 5
	maxOrders = 20
)

var tickers = []string{"SIM-BTC", "SIM-ETH", "SIM-XRP"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main runs one full engine cycle against the paper-trading venue:
// dispatch, reconcile, holdings sync and profit computation.
func main() {
	dbPath := os.Getenv("SIMULATION_DB")
	if dbPath == "" {
		dbPath = "simulation.db"
	}
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	account, symbols, err := seed(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed simulation data")
	}

	registry := broker.NewRegistry(broker.Config{}, db)
	profitService := profit.NewService(db)
	tradingService := trading.NewService(db, registry, profitService)
	portfolioService := portfolio.NewService(db, registry)

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	created := createOrders(db, account, symbols, targetOrders)
	log.Info().Int("orders_created", created).Msg("Simulation orders created")

	started := time.Now()

	dispatched := tradingService.ProcessOrders()
	log.Info().Int("processed", dispatched).Msg("Dispatch pass completed")

	// Give the simulated venue time to fill before reconciling.
	time.Sleep(100 * time.Millisecond)
	reconciled := tradingService.ReconcileOpenOrders()
	log.Info().Int("examined", reconciled).Msg("Reconciliation pass completed")

	synced, total := portfolioService.SyncAllAccounts()
	log.Info().Int("synced", synced).Int("total", total).Msg("Holdings sync completed")

	updated := profitService.UpdateAllAccountsDailyProfit(time.Now())
	log.Info().Int("accounts", updated).Msg("Profit computation completed")

	printSummary(db, account, time.Since(started))
}

// seed creates the paper-trading venue, one account and the simulated
// symbols, reusing existing rows across runs.
func seed(db *gorm.DB) (*types.Account, []types.Symbol, error) {
	venue := &types.Broker{Code: "SIM", Name: "Paper Trading", IsCryptoExchange: true}
	if err := db.Where(types.Broker{Code: "SIM"}).FirstOrCreate(venue).Error; err != nil {
		return nil, nil, err
	}

	account := &types.Account{
		BrokerID:       venue.ID,
		CashBalanceKRW: 10_000_000,
		BuyEnabled:     true,
		SellEnabled:    true,
	}
	if err := db.Where(types.Account{BrokerID: venue.ID}).FirstOrCreate(account).Error; err != nil {
		return nil, nil, err
	}
	account.Broker = *venue

	var symbols []types.Symbol
	for _, ticker := range tickers {
		symbol := types.Symbol{Ticker: ticker, Name: ticker, Currency: types.CurrencyKRW, BrokerID: venue.ID, IsCrypto: true}
		if err := db.Where(types.Symbol{Ticker: ticker}).FirstOrCreate(&symbol).Error; err != nil {
			return nil, nil, err
		}
		symbols = append(symbols, symbol)
	}

	return account, symbols, nil
}

// createOrders inserts random pending orders. Buys outnumber sells so the
// account builds positions for the sells to realize against.
func createOrders(db *gorm.DB, account *types.Account, symbols []types.Symbol, count int) int {
	store := trading.NewDatabase(db)

	created := 0
	for i := 0; i < count; i++ {
		symbol := symbols[rand.Intn(len(symbols))]
		side := types.OrderSideBuy
		if i%3 == 2 {
			side = types.OrderSideSell
		}
		price := float64(rand.Intn(900) + 100)

		order := &types.Order{
			AccountID: account.ID,
			SymbolID:  symbol.ID,
			Side:      side,
			OrderType: types.OrderTypeLimit,
			Quantity:  float64(rand.Intn(10) + 1),
			Price:     &price,
			Status:    types.OrderStatusPending,
		}
		if err := store.CreateOrder(order); err != nil {
			log.Error().Err(err).Str("ticker", symbol.Ticker).Msg("Failed to create order")
			continue
		}
		created++
	}
	return created
}

func printSummary(db *gorm.DB, account *types.Account, elapsed time.Duration) {
	var counts []struct {
		Status string
		Count  int64
	}
	db.Model(&types.Order{}).
		Select("status, count(*) as count").
		Where("account_id = ?", account.ID).
		Group("status").
		Scan(&counts)

	holdings, _ := portfolio.NewDatabase(db).GetHoldingsByAccount(account.ID)
	record, _ := profit.NewDatabase(db).GetDailyProfit(account.ID, midnight(time.Now()))

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Println("\nOrder outcomes")
	fmt.Println(strings.Repeat("-", 30))
	for _, row := range counts {
		fmt.Printf("%-18s %6d\n", row.Status, row.Count)
	}

	fmt.Println("\nHoldings")
	fmt.Println(strings.Repeat("-", 30))
	for _, holding := range holdings {
		fmt.Printf("%-10s qty=%.2f value=%.2f pnl=%.2f\n",
			holding.Symbol.Ticker, holding.Quantity, holding.TotalValue, holding.ProfitLoss)
	}
	if len(holdings) == 0 {
		fmt.Println("(none)")
	}

	fmt.Println("\nRealized profit (today)")
	fmt.Println(strings.Repeat("-", 30))
	if record != nil {
		fmt.Printf("profit=%.2f rate=%.2f%% sell_amount=%.2f\n",
			record.RealizedProfit, record.RealizedProfitRate, record.TotalSellAmount)
	} else {
		fmt.Println("(no sells filled)")
	}

	fmt.Printf("\nElapsed: %v\n", elapsed.Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 60))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
