package broker

import (
	"github.com/as950118/auto-trade/internal/types"
	"gorm.io/gorm"
)

// Database persists the mutable token cache the OAuth adapters maintain on
// accounts.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpdateAccountToken writes only the token cache columns, leaving the rest
// of the account row untouched.
func (d *Database) UpdateAccountToken(account *types.Account) error {
	return d.db.Model(&types.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"access_token":     account.AccessToken,
			"token_issued_at":  account.TokenIssuedAt,
			"token_expires_at": account.TokenExpiresAt,
		}).Error
}
