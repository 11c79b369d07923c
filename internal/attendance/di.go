package attendance

import (
	"github.com/foxseedlab/dutykeeper/internal/presence"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		repo := do.MustInvoke[repository.Repository](i)
		updater := do.MustInvoke[*presence.Updater](i)
		return NewService(repo, updater), nil
	})
}
