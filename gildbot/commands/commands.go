package commands

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
)

var Commands = []discord.ApplicationCommandCreate{
	Economy,
	Multipliers,
	Slots,
	Balance,
	Deposit,
	Withdraw,
}

// guildScope maps an interaction to its economy scope. Interactions outside
// a guild fall into the shared global scope.
func guildScope(e *handler.CommandEvent) string {
	if id := e.GuildID(); id != nil {
		return id.String()
	}
	return "global"
}
