package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Announcer publishes intervention outcomes to the community. Best effort:
// a failed announcement never rolls back or fails the intervention.
type Announcer interface {
	AnnounceIntervention(ctx context.Context, result *InterventionResult) error
}

// DiscordAnnouncer posts intervention embeds to a fixed channel.
type DiscordAnnouncer struct {
	mu        sync.RWMutex
	client    bot.Client
	channelID snowflake.ID
}

func NewDiscordAnnouncer(channelID snowflake.ID) *DiscordAnnouncer {
	return &DiscordAnnouncer{channelID: channelID}
}

func (n *DiscordAnnouncer) SetClient(client bot.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = client
}

func (n *DiscordAnnouncer) AnnounceIntervention(ctx context.Context, result *InterventionResult) error {
	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("announcer has no client")
	}

	embed := buildInterventionEmbed(result)
	_, err := client.Rest().CreateMessage(n.channelID, discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	})
	if err != nil {
		slog.Error("Failed to announce intervention",
			slog.String("type", "eco"),
			slog.String("kind", string(result.Kind)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func buildInterventionEmbed(result *InterventionResult) discord.Embed {
	builder := discord.NewEmbedBuilder().SetColor(0x2b2d31)

	switch result.Kind {
	case InterventionCrash:
		builder.SetTitle("📉 Market Contraction").
			SetDescription(fmt.Sprintf(
				"The market has contracted! High-wealth accounts lost **%.1f%%** of their holdings.\n"+
					"Payout multipliers are temporarily reduced (×%.2f for %s).",
				result.Percent*100, result.OverrideFactor, result.OverrideDuration)).
			AddField("Accounts hit", fmt.Sprintf("%d", result.Affected), true).
			AddField("Wealth removed", fmt.Sprintf("%d 🪙", result.TotalDebited), true)
	case InterventionStimulus:
		builder.SetTitle("💰 Stimulus Package").
			SetDescription(fmt.Sprintf(
				"Every account under the wealth ceiling received **%d 🪙**.\n"+
					"Payout multipliers are temporarily boosted (×%.2f for %s).",
				result.Amount, result.OverrideFactor, result.OverrideDuration)).
			AddField("Recipients", fmt.Sprintf("%d", result.Affected), true).
			AddField("Total injected", fmt.Sprintf("%d 🪙", result.TotalCredited), true)
	case InterventionWealthTax:
		builder.SetTitle("⚖️ Wealth Tax & Redistribution").
			SetDescription("A progressive wealth tax was collected from the largest accounts and redistributed.").
			AddField("Collected", fmt.Sprintf("%d 🪙", result.TotalDebited), true).
			AddField("Redistributed", fmt.Sprintf("%d 🪙", result.TotalCredited), true).
			AddField("Undistributed remainder", fmt.Sprintf("%d 🪙", result.Undistributed), true)
	}

	if result.FailedWrites > 0 {
		builder.AddField("Skipped accounts", fmt.Sprintf("%d", result.FailedWrites), true)
	}

	return builder.Build()
}
