package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"

	"github.com/gildhall/gildbot/gildbot"
	"github.com/gildhall/gildbot/gildbot/economy/rebalance"
	"github.com/gildhall/gildbot/gildbot/utils"
)

var Economy = discord.SlashCommandCreate{
	Name:        "economy",
	Description: "📊 Economic health and analysis",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "health",
			Description: "View the current economic health summary",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "analyze",
			Description: "Run a fresh full economic analysis",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "history",
			Description: "Browse past analysis snapshots",
		},
	},
}

func EconomyHandler(b *gildbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		data := e.SlashCommandInteractionData()
		switch *data.SubCommandName {
		case "health":
			return economyHealth(b, e)
		case "analyze":
			return economyAnalyze(b, e)
		case "history":
			return economyHistory(b, e)
		default:
			return fmt.Errorf("unknown economy subcommand: %s", *data.SubCommandName)
		}
	}
}

func economyHealth(b *gildbot.Bot, e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := b.Rebalancer.GetHealthSummary(ctx, guildScope(e))
	if err != nil {
		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title:       "Error",
				Description: "Failed to compute the health summary. Please try again later.",
				Color:       utils.ErrorColor,
			}},
		})
	}

	now := time.Now()
	return e.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{{
			Title: "📊 Economic Health",
			Description: fmt.Sprintf("```\nStatus:   %s %s\nAccounts: %d\nAverage:  %s 🪙\nTotal:    %s 🪙\n```",
				healthEmoji(summary.Health),
				summary.Health,
				summary.TotalUsers,
				utils.FormatNumber(summary.AverageBalance),
				utils.FormatNumber(summary.TotalWealth),
			),
			Fields: []discord.EmbedField{{
				Name:  "Critical warnings",
				Value: fmt.Sprintf("%d", summary.CriticalRecommendationCount),
			}},
			Color:     healthColor(summary.Health),
			Timestamp: &now,
		}},
	})
}

func economyAnalyze(b *gildbot.Bot, e *handler.CommandEvent) error {
	if err := e.DeferCreateMessage(false); err != nil {
		return fmt.Errorf("failed to defer message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := b.Rebalancer.RunFullAnalysis(ctx, guildScope(e))
	if err != nil {
		_, err = e.UpdateInteractionResponse(discord.MessageUpdate{
			Embeds: &[]discord.Embed{{
				Title:       "Error",
				Description: "Analysis failed. Please try again later.",
				Color:       utils.ErrorColor,
			}},
		})
		return err
	}

	intervention, err := b.Rebalancer.CheckForInterventions(ctx, guildScope(e))
	if err != nil {
		slog.Warn("Manual intervention check failed",
			slog.String("type", "eco"),
			slog.String("error", err.Error()))
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("📊 Economic Analysis Report").
		AddField("Economic Health", fmt.Sprintf("```\nScore:  %.1f/100\nStatus: %s %s\n```",
			snap.HealthScore, healthEmoji(snap.HealthLevel), snap.HealthLevel), false).
		AddField("Wealth Statistics", fmt.Sprintf("```\nTotal Wealth:   %s\nAverage:        %s\nMedian:         %s\nGini Index:     %.3f\nInflation:      %.1f%%\n```",
			utils.FormatNumber(snap.TotalWealth),
			utils.FormatNumber(snap.AverageBalance),
			utils.FormatNumber(snap.MedianBalance),
			snap.GiniIndex,
			snap.InflationRate,
		), false).
		AddField("Wealth Distribution", bucketGraph(snap), false).
		SetColor(healthColor(snap.HealthLevel)).
		SetTimestamp(time.Now())

	if len(snap.Recommendations) > 0 {
		embed.AddField("Recommendations", "• "+strings.Join(snap.Recommendations, "\n• "), false)
	}

	if ratios := formatRatios(snap.PerGameRatios); ratios != "" {
		embed.AddField("Game House Edges", ratios, false)
	}

	if intervention != nil {
		embed.AddField("Intervention", fmt.Sprintf("Triggered **%s** (%d accounts affected).",
			intervention.Kind, intervention.Affected), false)
	}

	_, err = e.UpdateInteractionResponse(discord.MessageUpdate{
		Embeds: &[]discord.Embed{embed.Build()},
	})
	return err
}

const snapshotsPerPage = 5

func economyHistory(b *gildbot.Bot, e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snaps, err := b.SnapshotRepository.List(ctx, guildScope(e), 50)
	if err != nil || len(snaps) == 0 {
		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title:       "📜 Analysis History",
				Description: "No snapshots recorded yet.",
				Color:       utils.WarningColor,
			}},
		})
	}

	pages := (len(snaps) + snapshotsPerPage - 1) / snapshotsPerPage
	return b.Paginator.Create(e.Respond, paginator.Pages{
		ID:      e.ID().String(),
		Creator: e.User().ID,
		PageFunc: func(page int, embed *discord.EmbedBuilder) {
			startIdx := page * snapshotsPerPage
			endIdx := min(startIdx+snapshotsPerPage, len(snaps))

			var description strings.Builder
			for _, snap := range snaps[startIdx:endIdx] {
				description.WriteString(fmt.Sprintf("**%s** %s (%.1f)\n`gini %.3f · %d accounts · avg %s 🪙`\n\n",
					snap.Timestamp.Format("Jan 02 15:04"),
					snap.HealthLevel,
					snap.HealthScore,
					snap.GiniIndex,
					snap.TotalUsers,
					utils.FormatNumber(snap.AverageBalance),
				))
			}

			embed.SetTitle("📜 Analysis History").
				SetDescription(description.String()).
				SetColor(utils.InfoColor).
				SetFooter(fmt.Sprintf("Page %d/%d • Snapshots: %d", page+1, pages, len(snaps)), "")
		},
		Pages:      pages,
		ExpireMode: paginator.ExpireModeAfterLastUsage,
	}, false)
}

func bucketGraph(snap *rebalance.AnalysisSnapshot) string {
	var sb strings.Builder
	sb.WriteString("```\n")

	const barWidth = 20
	for _, bucket := range snap.WealthBuckets {
		sb.WriteString(fmt.Sprintf("%-9s │%s %.1f%%\n",
			bucket.Label, strings.Repeat("■", int(bucket.Percent*barWidth/100)), bucket.Percent))
	}
	sb.WriteString("```")
	return sb.String()
}

func formatRatios(ratios map[string]rebalance.GameRatio) string {
	if len(ratios) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```\n")
	for key, ratio := range ratios {
		if !ratio.HasEdgeData {
			sb.WriteString(fmt.Sprintf("%-16s no wager data\n", key))
			continue
		}
		sb.WriteString(fmt.Sprintf("%-16s edge %+.1f%%  win %.1f%%  (%d games)\n",
			key, ratio.HouseEdge, ratio.WinRate, ratio.TotalGames))
	}
	sb.WriteString("```")
	return sb.String()
}

func healthEmoji(level rebalance.HealthLevel) string {
	switch level {
	case rebalance.HealthExcellent:
		return "🟢"
	case rebalance.HealthGood:
		return "🟡"
	case rebalance.HealthFair:
		return "🟠"
	case rebalance.HealthPoor:
		return "🔴"
	case rebalance.HealthCritical:
		return "🆘"
	default:
		return "⚪"
	}
}

func healthColor(level rebalance.HealthLevel) int {
	switch level {
	case rebalance.HealthExcellent, rebalance.HealthGood:
		return utils.SuccessColor
	case rebalance.HealthFair:
		return utils.WarningColor
	case rebalance.HealthPoor, rebalance.HealthCritical:
		return utils.ErrorColor
	default:
		return utils.InfoColor
	}
}
