package sample

import (
	"github.com/smallbiznis/insightzen/internal/sample/repository"
	"github.com/smallbiznis/insightzen/internal/sample/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sample.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
