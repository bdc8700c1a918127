package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/gildhall/gildbot/gildbot"
	"github.com/gildhall/gildbot/gildbot/utils"
)

var slotSymbols = []string{"🍒", "🍋", "🍇", "🔔", "💎", "7️⃣"}

var Slots = discord.SlashCommandCreate{
	Name:        "slots",
	Description: "🎰 Spin the slot machine",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionInt{
			Name:        "bet",
			Description: "Amount to wager",
			Required:    true,
			MinValue:    intPtr(10),
		},
		discord.ApplicationCommandOptionString{
			Name:        "variant",
			Description: "Machine to play",
			Required:    false,
			Choices: []discord.ApplicationCommandOptionChoiceString{
				{Name: "Classic (3 reels)", Value: "classic"},
				{Name: "Deluxe (4 reels)", Value: "deluxe"},
			},
		},
	},
}

func SlotsHandler(b *gildbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		data := e.SlashCommandInteractionData()
		bet := int64(data.Int("bet"))
		variant := "classic"
		if v, ok := data.OptString("variant"); ok {
			variant = v
		}

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

		if bet > account.WalletBalance {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Insufficient funds",
					Description: fmt.Sprintf("You only have %s 🪙 in your wallet.", utils.FormatNumber(account.WalletBalance)),
					Color:       utils.WarningColor,
				}},
			})
		}

		reelCount := 3
		if variant == "deluxe" {
			reelCount = 4
		}

		reels := make([]string, reelCount)
		for i := range reels {
			reels[i] = slotSymbols[rand.Intn(len(slotSymbols))]
		}

		tier := payoutTier(reels)

		// The payout ladder already carries the health adjustment; the spin
		// only picks the tier.
		ladder := b.Rebalancer.GetMultipliers("slots", variant).Ladder

		var payout int64
		won := tier >= 0 && tier < len(ladder)
		if won {
			payout = int64(float64(bet) * ladder[tier])
		}

		delta := payout - bet
		if err := b.AccountRepository.AddToWallet(ctx, account.DiscordID, account.GuildID, delta); err != nil {
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "Error",
					Description: "The spin could not be settled. Your wallet is untouched.",
					Color:       utils.ErrorColor,
				}},
			})
		}

		if err := b.GameStatsRepository.RecordResult(ctx, account.GuildID, "slots", variant, won, bet, payout); err != nil {
			// Stats drive the health analysis, not the payout; losing one
			// sample is acceptable.
			slog.Warn("Slots result not recorded",
				slog.String("type", "cmd"),
				slog.String("guild_id", account.GuildID),
				slog.String("variant", variant),
				slog.String("error", err.Error()))
		}

		title := "🎰 Slots"
		color := utils.ErrorColor
		outcome := fmt.Sprintf("No match. You lost **%s 🪙**.", utils.FormatNumber(bet))
		if won {
			color = utils.SuccessColor
			outcome = fmt.Sprintf("**%s** pays **×%.2f**! You won **%s 🪙**.",
				tierName(tier), ladder[tier], utils.FormatNumber(payout))
		}

		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title:       title,
				Description: fmt.Sprintf("# %s\n%s", strings.Join(reels, " "), outcome),
				Color:       color,
				Footer: &discord.EmbedFooter{
					Text: fmt.Sprintf("Wallet: %s 🪙", utils.FormatNumber(account.WalletBalance+delta)),
				},
			}},
		})
	}
}

// payoutTier maps a spin to its ladder tier, -1 for a losing spin. Tiers
// rise with the match length; a full line of sevens tops the ladder.
func payoutTier(reels []string) int {
	counts := map[string]int{}
	best := 0
	bestSymbol := ""
	for _, symbol := range reels {
		counts[symbol]++
		if counts[symbol] > best {
			best = counts[symbol]
			bestSymbol = symbol
		}
	}

	switch {
	case best == len(reels) && bestSymbol == "7️⃣":
		return len(reels) - 1
	case best == len(reels):
		return len(reels) - 2
	case best == len(reels)-1:
		return len(reels) - 3
	default:
		return -1
	}
}

func tierName(tier int) string {
	switch tier {
	case 0:
		return "Pair line"
	case 1:
		return "Match line"
	case 2:
		return "Full line"
	default:
		return "Jackpot"
	}
}
