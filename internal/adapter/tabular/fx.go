package tabular

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/smallbiznis/commissions/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("adapter.tabular",
	fx.Provide(NewRegistry),
)

// NewRegistry registers one tabular adapter per layout in cfg.LayoutsFile.
// A missing layouts file yields an empty registry.
func NewRegistry(cfg config.Config, log *zap.Logger) (*adapter.Registry, error) {
	registry := adapter.NewRegistry()
	layouts, err := LoadLayouts(cfg.LayoutsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("adapter layouts file not found, no report variants registered",
				zap.String("path", cfg.LayoutsFile))
			return registry, nil
		}
		return nil, err
	}
	if err := Register(registry, layouts, log); err != nil {
		return nil, err
	}
	log.Info("report variants registered", zap.Strings("variants", registry.Variants()))
	return registry, nil
}

// Register adds an adapter for every layout to registry.
func Register(registry *adapter.Registry, layouts []Layout, log *zap.Logger) error {
	for _, layout := range layouts {
		a, err := New(layout, log)
		if err != nil {
			return err
		}
		if err := registry.Register(layout.Variant, a); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
		}
	}
	return nil
}
