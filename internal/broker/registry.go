package broker

import (
	"fmt"
	"strings"

	"github.com/as950118/auto-trade/internal/types"
	"gorm.io/gorm"
)

// Factory builds an adapter for one account. Construction must fail fast
// with a ConfigError when mandatory credentials are missing.
type Factory func(account *types.Account) (Client, error)

// Registry resolves an account's configured venue to an adapter instance.
// Dispatch is keyed on (broker.is_crypto_exchange, broker.code); new venues
// are added with Register* without touching any call site.
type Registry struct {
	crypto     map[string]Factory
	securities map[string]Factory
}

// NewRegistry builds a registry with the built-in venues registered.
// The store is used by token-broker adapters to persist refreshed tokens.
func NewRegistry(cfg Config, db *gorm.DB) *Registry {
	cfg = cfg.withDefaults()
	var store *Database
	if db != nil {
		store = NewDatabase(db)
	}

	r := &Registry{
		crypto:     make(map[string]Factory),
		securities: make(map[string]Factory),
	}

	r.RegisterCrypto("UPBIT", func(account *types.Account) (Client, error) {
		return NewUpbitClient(cfg, account)
	})
	r.RegisterCrypto("BINGX", func(account *types.Account) (Client, error) {
		return NewBingXClient(cfg, account)
	})
	r.RegisterSecurities("KIS", func(account *types.Account) (Client, error) {
		return NewKISClient(cfg, account, store)
	})

	// Paper-trading venue, usable from either category.
	sim := func(account *types.Account) (Client, error) {
		return NewSimulator(account), nil
	}
	r.RegisterCrypto("SIM", sim)
	r.RegisterSecurities("SIM", sim)

	return r
}

// RegisterCrypto registers a factory for a crypto-exchange venue code.
func (r *Registry) RegisterCrypto(code string, f Factory) {
	r.crypto[strings.ToUpper(code)] = f
}

// RegisterSecurities registers a factory for a securities-broker venue code.
func (r *Registry) RegisterSecurities(code string, f Factory) {
	r.securities[strings.ToUpper(code)] = f
}

// Resolve returns the adapter for the account's broker. The account must
// have its Broker association loaded. An unknown code within a known
// category is a configuration error, never silently ignored.
func (r *Registry) Resolve(account *types.Account) (Client, error) {
	venue := account.Broker
	if venue.Code == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("account %d has no broker configured", account.ID)}
	}

	code := strings.ToUpper(venue.Code)
	var factory Factory
	var ok bool
	if venue.IsCryptoExchange {
		factory, ok = r.crypto[code]
	} else {
		factory, ok = r.securities[code]
	}
	if !ok {
		kind := "securities broker"
		if venue.IsCryptoExchange {
			kind = "crypto exchange"
		}
		return nil, &ConfigError{
			Venue:  venue.Name,
			Reason: fmt.Sprintf("unsupported %s code %q", kind, code),
		}
	}

	return factory(account)
}
