package bot

import (
	"github.com/foxseedlab/dutykeeper/internal/attendance"
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/entitlement"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		att := do.MustInvoke[*attendance.Service](i)
		ent := do.MustInvoke[*entitlement.Service](i)
		sch := do.MustInvoke[*schedule.Service](i)
		dc := do.MustInvoke[discord.Client](i)
		return NewHandler(cfg.OwnerUserID, att, ent, sch, dc), nil
	})
}
