package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/broker"
	"github.com/as950118/auto-trade/internal/types"
)

// Resolver turns an account into its venue adapter.
type Resolver interface {
	Resolve(account *types.Account) (broker.Client, error)
}

// Service mirrors venue-reported balances and positions into the local
// account and holding tables.
type Service struct {
	db       *Database
	registry Resolver
	timeout  time.Duration
}

func NewService(db *gorm.DB, registry Resolver) *Service {
	return &Service{
		db:       NewDatabase(db),
		registry: registry,
		timeout:  30 * time.Second,
	}
}

// SyncAllAccounts refreshes every account from its venue. Misconfigured
// accounts are skipped and counted as handled; only venue failures count
// against the result. Returns (handled, total).
func (s *Service) SyncAllAccounts() (int, int) {
	accounts, err := s.db.GetAccounts()
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts for sync")
		return 0, 0
	}

	handled := 0
	for i := range accounts {
		account := &accounts[i]
		if err := s.syncAccount(account); err != nil {
			log.Error().Err(err).Uint("account_id", account.ID).Msg("account sync failed")
			continue
		}
		handled++
	}

	log.Info().Int("handled", handled).Int("total", len(accounts)).Msg("account sync completed")
	return handled, len(accounts)
}

// syncAccount pulls one account's snapshot and applies it. A configuration
// error is a skip, not a failure: the account simply cannot be synced until
// its credentials are fixed.
func (s *Service) syncAccount(account *types.Account) error {
	client, err := s.registry.Resolve(account)
	if err != nil {
		if broker.IsConfigError(err) {
			log.Warn().Err(err).Uint("account_id", account.ID).Msg("skipping unconfigured account")
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snapshot, err := client.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	account.CashBalanceKRW = snapshot.CashBalanceKRW
	account.StockValueKRW = snapshot.StockValueKRW
	account.TotalAssetsKRW = snapshot.TotalAssetsKRW
	account.CashBalanceUSD = snapshot.CashBalanceUSD
	account.StockValueUSD = snapshot.StockValueUSD
	account.TotalAssetsUSD = snapshot.TotalAssetsUSD
	if err := s.db.UpdateAccountBalances(account); err != nil {
		return fmt.Errorf("update balances: %w", err)
	}

	return s.SyncHoldings(account, snapshot)
}

// SyncHoldings replaces the account's stored positions with the snapshot's.
// Positions absent from the snapshot are deleted afterwards, so a line that
// is skipped here disappears from the local table.
func (s *Service) SyncHoldings(account *types.Account, snapshot *types.AccountSnapshot) error {
	seen := make([]uint, 0, len(snapshot.Holdings))

	for _, line := range snapshot.Holdings {
		if line.Ticker == "" {
			log.Warn().Uint("account_id", account.ID).Msg("snapshot line without ticker, skipping")
			continue
		}
		if line.Quantity <= 0 {
			continue
		}

		symbol, err := s.ensureSymbol(account, line)
		if err != nil {
			return err
		}

		// Each price stands in for the other when the venue omits one.
		currentPrice := line.CurrentPrice
		if currentPrice <= 0 {
			currentPrice = line.AveragePrice
		}
		averagePrice := line.AveragePrice
		if averagePrice <= 0 {
			averagePrice = line.CurrentPrice
		}

		holding, err := s.db.GetHolding(account.ID, symbol.ID)
		if err != nil {
			return fmt.Errorf("load holding %s: %w", line.Ticker, err)
		}
		if holding == nil {
			holding = &types.Holding{AccountID: account.ID, SymbolID: symbol.ID}
		}
		holding.Quantity = line.Quantity
		holding.AveragePrice = averagePrice
		holding.CurrentPrice = currentPrice
		if err := s.db.SaveHolding(holding); err != nil {
			return fmt.Errorf("save holding %s: %w", line.Ticker, err)
		}

		seen = append(seen, symbol.ID)
	}

	if err := s.db.DeleteHoldingsNotIn(account.ID, seen); err != nil {
		return fmt.Errorf("prune stale holdings: %w", err)
	}
	return nil
}

// ensureSymbol looks up the line's symbol, creating it on first sight and
// correcting a stored currency that drifted from what the venue reports.
func (s *Service) ensureSymbol(account *types.Account, line types.HoldingLine) (*types.Symbol, error) {
	symbol, err := s.db.GetSymbolByTicker(line.Ticker)
	if err != nil {
		return nil, fmt.Errorf("look up symbol %s: %w", line.Ticker, err)
	}

	if symbol == nil {
		name := line.Name
		if name == "" {
			name = line.Ticker
		}
		symbol = &types.Symbol{
			Ticker:   line.Ticker,
			Name:     name,
			Currency: line.Currency,
			BrokerID: account.BrokerID,
			IsCrypto: account.Broker.IsCryptoExchange,
		}
		if err := s.db.SaveSymbol(symbol); err != nil {
			return nil, fmt.Errorf("create symbol %s: %w", line.Ticker, err)
		}
		log.Info().Str("ticker", line.Ticker).Msg("registered new symbol from snapshot")
		return symbol, nil
	}

	if line.Currency != "" && symbol.Currency != line.Currency {
		symbol.Currency = line.Currency
		if err := s.db.SaveSymbol(symbol); err != nil {
			return nil, fmt.Errorf("update symbol %s: %w", line.Ticker, err)
		}
	}
	return symbol, nil
}
