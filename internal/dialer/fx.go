package dialer

import (
	"github.com/smallbiznis/insightzen/internal/dialer/repository"
	"github.com/smallbiznis/insightzen/internal/dialer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dialer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
