package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type envField struct {
	name  string
	apply func(cfg *EncoderConfig, value string) error
}

func boolField(name string, target func(cfg *EncoderConfig) *bool) envField {
	return envField{name: name, apply: func(cfg *EncoderConfig, value string) error {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

func intField(name string, target func(cfg *EncoderConfig) *int) envField {
	return envField{name: name, apply: func(cfg *EncoderConfig, value string) error {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if parsed < 0 {
			return errors.Newf("value may not be negative")
		}
		*target(cfg) = parsed
		return nil
	}}
}

// toggleField accepts a boolean, or "default" to leave the hardware value alone
func toggleField(name string, target func(cfg *EncoderConfig) *Toggle) envField {
	return envField{name: name, apply: func(cfg *EncoderConfig, value string) error {
		if strings.EqualFold(value, "default") {
			*target(cfg) = ToggleDefault
			return nil
		}

		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		if parsed {
			*target(cfg) = ToggleEnabled
		} else {
			*target(cfg) = ToggleDisabled
		}
		return nil
	}}
}

var envFields = []envField{
	boolField("FORCE_IMMEDIATE_SYNCHRONOUS", func(cfg *EncoderConfig) *bool { return &cfg.ForceImmediateSynchronous }),
	toggleField("RELAXED_ORDERING", func(cfg *EncoderConfig) *Toggle { return &cfg.RelaxedOrdering }),
	intField("RELAXED_ORDERING_THRESHOLD", func(cfg *EncoderConfig) *int { return &cfg.RelaxedOrderingThreshold }),
	boolField("RELAXED_ORDERING_COUNTER_HEURISTIC", func(cfg *EncoderConfig) *bool { return &cfg.RelaxedOrderingCounterHeuristic }),
	intField("RELAXED_ORDERING_QUEUE_DEPTH", func(cfg *EncoderConfig) *int { return &cfg.RelaxedOrderingQueueDepth }),
	intField("MAX_BLIT_WIDTH", func(cfg *EncoderConfig) *int { return &cfg.MaxBlitWidth }),
	intField("MAX_BLIT_HEIGHT", func(cfg *EncoderConfig) *int { return &cfg.MaxBlitHeight }),
	{name: "FORCE_BLIT_COMPRESSION_FORMAT", apply: func(cfg *EncoderConfig, value string) error {
		parsed, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return err
		}
		cfg.ForceBlitCompressionFormat = uint32(parsed)
		return nil
	}},
	toggleField("PRE_BLIT_FENCE", func(cfg *EncoderConfig) *Toggle { return &cfg.PreBlitFence }),
	intField("COMMAND_BUFFER_SIZE", func(cfg *EncoderConfig) *int { return &cfg.CommandBufferSize }),
	toggleField("IN_ORDER_ATOMIC_SIGNALING", func(cfg *EncoderConfig) *Toggle { return &cfg.InOrderAtomicSignaling }),
	toggleField("IN_ORDER_HOST_MIRROR", func(cfg *EncoderConfig) *Toggle { return &cfg.InOrderHostMirror }),
	boolField("DISABLE_IN_ORDER_PATCHING", func(cfg *EncoderConfig) *bool { return &cfg.DisableInOrderPatching }),
}

// FromEnvironment builds an EncoderConfig from variables named prefix + "_" + field, for instance
// DISPATCH_MAX_BLIT_WIDTH when prefix is "DISPATCH". Unset variables keep their zero value.
func FromEnvironment(prefix string) (EncoderConfig, error) {
	return fromLookup(prefix, os.LookupEnv)
}

func fromLookup(prefix string, lookup func(string) (string, bool)) (EncoderConfig, error) {
	var cfg EncoderConfig

	for _, field := range envFields {
		name := prefix + "_" + field.name
		value, ok := lookup(name)
		if !ok {
			continue
		}

		if err := field.apply(&cfg, strings.TrimSpace(value)); err != nil {
			return EncoderConfig{}, errors.Wrapf(err, "could not parse %s=%q", name, value)
		}
	}

	return cfg, nil
}
