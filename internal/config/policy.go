package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelinePolicy holds operational thresholds for deciding a submission's final status.
type PipelinePolicy struct {
	// AttentionThreshold is the unresolved row fraction above which a
	// submission lands in NEEDS_ATTENTION.
	AttentionThreshold float64 `mapstructure:"attentionThreshold"`
	// MinRowsForAttention exempts tiny reports from the threshold check.
	MinRowsForAttention int `mapstructure:"minRowsForAttention"`
}

func DefaultPipelinePolicy() PipelinePolicy {
	return PipelinePolicy{
		AttentionThreshold:  0.10,
		MinRowsForAttention: 1,
	}
}

// PolicySource exposes the current pipeline policy.
type PolicySource interface {
	Get() PipelinePolicy
}

type PipelinePolicyHolder struct {
	current atomic.Value // holds PipelinePolicy
}

// StaticPolicy returns a holder that never reloads.
func StaticPolicy(policy PipelinePolicy) *PipelinePolicyHolder {
	holder := &PipelinePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPipelinePolicyHolder(cfg Config, log *zap.Logger) (*PipelinePolicyHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.PolicyPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pipeline")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/commissions")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COMMISSIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPipelinePolicy()
	v.SetDefault("pipeline.attentionThreshold", defaults.AttentionThreshold)
	v.SetDefault("pipeline.minRowsForAttention", defaults.MinRowsForAttention)

	explicit := strings.TrimSpace(cfg.PolicyPath) != ""
	loaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, err
		}
		loaded = false
	}

	var policy PipelinePolicy
	if err := v.UnmarshalKey("pipeline", &policy); err != nil {
		return nil, err
	}
	if err := validatePipelinePolicy(policy); err != nil {
		return nil, err
	}

	holder := StaticPolicy(policy)
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.policy")

	if !loaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelinePolicy
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Warn("pipeline policy reload failed", zap.Error(err))
			return
		}
		if err := validatePipelinePolicy(updated); err != nil {
			log.Warn("invalid pipeline policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pipeline policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PipelinePolicyHolder) Get() PipelinePolicy {
	return h.current.Load().(PipelinePolicy)
}

func validatePipelinePolicy(policy PipelinePolicy) error {
	if policy.AttentionThreshold < 0 || policy.AttentionThreshold > 1 {
		return errors.New("pipeline.attentionThreshold must be within [0, 1]")
	}
	if policy.MinRowsForAttention < 0 {
		return errors.New("pipeline.minRowsForAttention cannot be negative")
	}
	return nil
}
