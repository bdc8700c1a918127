package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/sahilm/fuzzy"

	"github.com/gildhall/gildbot/gildbot"
	"github.com/gildhall/gildbot/gildbot/economy/rebalance"
	"github.com/gildhall/gildbot/gildbot/utils"
)

var Multipliers = discord.SlashCommandCreate{
	Name:        "multipliers",
	Description: "🎰 View the active payout multipliers",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionString{
			Name:         "game",
			Description:  "Show a single game/variant",
			Required:     false,
			Autocomplete: true,
		},
	},
}

func MultipliersHandler(b *gildbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		data := e.SlashCommandInteractionData()
		now := time.Now()

		embed := discord.NewEmbedBuilder().
			SetTitle("🎰 Payout Multipliers").
			SetColor(utils.InfoColor).
			SetTimestamp(now)

		if factor, expires, ok := b.Rebalancer.Multipliers().ActiveOverride(); ok {
			embed.SetDescription(fmt.Sprintf("⚡ Temporary override **×%.2f** active until <t:%d:R>.", factor, expires.Unix()))
		}

		keys := b.Rebalancer.Multipliers().GameKeys()
		sort.Strings(keys)

		if query, ok := data.OptString("game"); ok {
			keys = filterKeys(keys, query)
			if len(keys) == 0 {
				return e.CreateMessage(discord.MessageCreate{
					Embeds: []discord.Embed{{
						Title:       "🎰 Payout Multipliers",
						Description: fmt.Sprintf("No game matches `%s`.", query),
						Color:       utils.WarningColor,
					}},
				})
			}
		}

		var sb strings.Builder
		sb.WriteString("```\n")
		for _, key := range keys {
			game, variant := splitGameKey(key)
			sb.WriteString(fmt.Sprintf("%-18s %s\n", key, formatMultiplier(b.Rebalancer.GetMultipliers(game, variant))))
		}
		sb.WriteString("```")
		embed.AddField("Active table", sb.String(), false)

		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{embed.Build()},
		})
	}
}

func MultipliersAutocompleteHandler(b *gildbot.Bot) handler.AutocompleteHandler {
	return func(e *handler.AutocompleteEvent) error {
		focused := e.Data.Focused()
		if focused.Name != "game" {
			return nil
		}

		searchTerm := ""
		if focused.Value != nil {
			var s string
			if err := json.Unmarshal(focused.Value, &s); err != nil {
				return e.AutocompleteResult([]discord.AutocompleteChoice{})
			}
			searchTerm = strings.TrimSpace(s)
		}

		keys := b.Rebalancer.Multipliers().GameKeys()
		sort.Strings(keys)
		if searchTerm != "" {
			keys = filterKeys(keys, searchTerm)
		}

		choices := make([]discord.AutocompleteChoice, 0, min(len(keys), 25))
		for _, key := range keys {
			if len(choices) == 25 {
				break
			}
			choices = append(choices, discord.AutocompleteChoiceString{
				Name:  key,
				Value: key,
			})
		}
		return e.AutocompleteResult(choices)
	}
}

// filterKeys keeps game keys fuzzy-matching the query, best matches first.
func filterKeys(keys []string, query string) []string {
	matches := fuzzy.Find(query, keys)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, keys[m.Index])
	}
	return out
}

func splitGameKey(key string) (game, variant string) {
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

func formatMultiplier(m rebalance.Multiplier) string {
	if m.IsZero() {
		return "n/a"
	}
	if len(m.Ladder) > 0 {
		parts := make([]string, len(m.Ladder))
		for i, v := range m.Ladder {
			parts[i] = fmt.Sprintf("×%.2f", v)
		}
		return strings.Join(parts, " / ")
	}
	return fmt.Sprintf("×%.2f", m.Value)
}
