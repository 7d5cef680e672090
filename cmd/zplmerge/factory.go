package main

import (
	"fmt"

	"zplmerge/internal/config"
	"zplmerge/internal/labelary"
	"zplmerge/internal/run"
)

// rendererFactory returns a constructor for Labelary clients built from cfg.
// Each call gets its own throttle so runs never share pacing state.
func rendererFactory(cfg config.LabelaryConfig) (func() run.Renderer, error) {
	if _, err := labelary.NewThrottle(cfg.Throttle, cfg.RatePerSecond); err != nil {
		return nil, fmt.Errorf("labelary throttle: %w", err)
	}
	return func() run.Renderer {
		throttle, _ := labelary.NewThrottle(cfg.Throttle, cfg.RatePerSecond)
		return labelary.New(labelary.Options{
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			MaxBackoff: cfg.MaxBackoff,
			Throttle:   throttle,
		})
	}, nil
}

func runOptions(cfg config.BatchingConfig) run.Options {
	return run.Options{
		Strategy:     cfg.Strategy,
		ItemCap:      cfg.ItemCap,
		InitialChunk: cfg.InitialChunk,
	}
}
