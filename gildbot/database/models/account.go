package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is one member's economy record within a guild. Wealth is split
// between a spendable wallet and a bank; the rebalancer treats the sum as
// the account's total balance.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID            int64  `bun:"id,pk,autoincrement"`
	DiscordID     string `bun:"discord_id,notnull"`
	GuildID       string `bun:"guild_id,notnull"`
	Username      string `bun:"username,notnull"`
	WalletBalance int64  `bun:"wallet_balance,notnull,default:0"`
	BankBalance   int64  `bun:"bank_balance,notnull,default:0"`

	LastActive time.Time `bun:"last_active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// TotalBalance returns wallet + bank.
func (a *Account) TotalBalance() int64 {
	return a.WalletBalance + a.BankBalance
}
