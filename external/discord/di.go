package discord

import (
	"github.com/foxseedlab/dutykeeper/internal/config"
	discordpkg "github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (discordpkg.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewClient(c.DiscordToken, c.DiscordSendRatePerSec), nil
	})
	do.Provide(injector, func(i do.Injector) (discordpkg.Sink, error) {
		return do.MustInvoke[discordpkg.Client](i), nil
	})
}
