package entitlement

import (
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		sink := do.MustInvoke[discord.Sink](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewService(cfg, repo, sink, wh), nil
	})
}
