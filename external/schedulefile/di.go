package schedulefile

import (
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Watcher, error) {
		c := do.MustInvoke[*config.Config](i)
		sch := do.MustInvoke[*schedule.Service](i)
		return NewWatcher(c.SchedulesFile, sch), nil
	})
}
