package pipeline

import (
	"github.com/smallbiznis/commissions/internal/eventbus"
	"go.uber.org/fx"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		New,
		NewSubscribers,
	),
	fx.Invoke(func(s *Subscribers, bus *eventbus.Bus) {
		s.Register(bus)
	}),
)
