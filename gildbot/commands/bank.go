package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/gildhall/gildbot/gildbot"
	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/gildhall/gildbot/gildbot/utils"
)

var Balance = discord.SlashCommandCreate{
	Name:        "balance",
	Description: "💰 View your wallet and bank balance",
}

var Deposit = discord.SlashCommandCreate{
	Name:        "deposit",
	Description: "🏦 Move credits from your wallet into your bank",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionInt{
			Name:        "amount",
			Description: "Amount to deposit",
			Required:    true,
			MinValue:    intPtr(1),
		},
	},
}

var Withdraw = discord.SlashCommandCreate{
	Name:        "withdraw",
	Description: "🏦 Move credits from your bank into your wallet",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionInt{
			Name:        "amount",
			Description: "Amount to withdraw",
			Required:    true,
			MinValue:    intPtr(1),
		},
	},
}

func intPtr(v int) *int {
	return &v
}

// getOrCreateAccount loads the caller's account, creating a fresh one with
// the starting balance on first contact.
func getOrCreateAccount(ctx context.Context, b *gildbot.Bot, e *handler.CommandEvent) (*models.Account, error) {
	account, err := b.AccountRepository.GetByDiscordID(ctx, e.User().ID.String(), guildScope(e))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	account = &models.Account{
		DiscordID:     e.User().ID.String(),
		GuildID:       guildScope(e),
		Username:      e.User().Username,
		WalletBalance: 1000,
		LastActive:    time.Now(),
	}
	if err := b.AccountRepository.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func BalanceHandler(b *gildbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		account, err := getOrCreateAccount(ctx, b, e)
		if err != nil {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Error",
					Description: "Failed to fetch your balance. Please try again later.",
					Color:       utils.ErrorColor,
				}},
			})
		}

		now := time.Now()
		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title: "💰 Balance",
				Description: fmt.Sprintf("```\nWallet: %s 🪙\nBank:   %s 🪙\nTotal:  %s 🪙\n```",
					utils.FormatNumber(account.WalletBalance),
					utils.FormatNumber(account.BankBalance),
					utils.FormatNumber(account.TotalBalance()),
				),
				Color: utils.SuccessColor,
				Footer: &discord.EmbedFooter{
					Text: fmt.Sprintf("Requested by %s", e.User().Username),
				},
				Timestamp: &now,
			}},
		})
	}
}

func DepositHandler(b *gildbot.Bot) handler.CommandHandler {
	return transferHandler(b, "deposit", func(account *models.Account, amount int64) (int64, int64, error) {
		if amount > account.WalletBalance {
			return 0, 0, fmt.Errorf("you only have %s 🪙 in your wallet", utils.FormatNumber(account.WalletBalance))
		}
		return account.WalletBalance - amount, account.BankBalance + amount, nil
	})
}

func WithdrawHandler(b *gildbot.Bot) handler.CommandHandler {
	return transferHandler(b, "withdraw", func(account *models.Account, amount int64) (int64, int64, error) {
		if amount > account.BankBalance {
			return 0, 0, fmt.Errorf("you only have %s 🪙 in your bank", utils.FormatNumber(account.BankBalance))
		}
		return account.WalletBalance + amount, account.BankBalance - amount, nil
	})
}

func transferHandler(b *gildbot.Bot, name string, move func(*models.Account, int64) (wallet, bank int64, err error)) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		amount := int64(e.SlashCommandInteractionData().Int("amount"))

		account, err := getOrCreateAccount(ctx, b, e)
		if err != nil {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Error",
					Description: "Failed to load your account. Please try again later.",
					Color:       utils.ErrorColor,
				}},
			})
		}

		wallet, bank, err := move(account, amount)
		if err != nil {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Insufficient funds",
					Description: err.Error(),
					Color:       utils.WarningColor,
				}},
			})
		}

		if err := b.AccountRepository.SetBalance(ctx, account.DiscordID, account.GuildID, wallet, bank); err != nil {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Error",
					Description: "Transfer failed. Please try again later.",
					Color:       utils.ErrorColor,
				}},
			})
		}

		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title: "🏦 " + name,
				Description: fmt.Sprintf("Moved **%s 🪙**.\n```\nWallet: %s 🪙\nBank:   %s 🪙\n```",
					utils.FormatNumber(amount),
					utils.FormatNumber(wallet),
					utils.FormatNumber(bank),
				),
				Color: utils.SuccessColor,
			}},
		})
	}
}
