package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// validate checks cross-field constraints after defaults are merged
// (fail-fast - stops at first error).
func validate(cfg *Config) error {
	r := cfg.Reducer
	if r.MaxSections <= 0 {
		return NewValidationError("reducer", "max_sections", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, r.MaxSections))
	}
	if r.RetainSections <= 0 || r.RetainSections > r.MaxSections {
		return NewValidationError("reducer", "retain_sections",
			fmt.Errorf("%w: must be between 1 and max_sections (%d), got %d", ErrInvalidValue, r.MaxSections, r.RetainSections))
	}
	switch timeline.EvictionPolicy(r.EvictionPolicy) {
	case timeline.EvictLastTouched, timeline.EvictInsertion:
	default:
		return NewValidationError("reducer", "eviction_policy",
			fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidValue, r.EvictionPolicy, timeline.EvictLastTouched, timeline.EvictInsertion))
	}
	if r.DiagnosticsLimit <= 0 {
		return NewValidationError("reducer", "diagnostics_limit", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for i, m := range r.Markers {
		if strings.TrimSpace(m) == "" {
			return NewValidationError("reducer", fmt.Sprintf("markers[%d]", i), fmt.Errorf("%w: empty marker", ErrInvalidValue))
		}
	}

	m := cfg.Monitor
	if m.MaxEvents < 2 {
		return NewValidationError("monitor", "max_events", fmt.Errorf("%w: must be at least 2", ErrInvalidValue))
	}
	if m.IdleTimeout <= 0 {
		return NewValidationError("monitor", "idle_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.QueueSize <= 0 {
		return NewValidationError("monitor", "queue_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.FetchLimit <= 0 {
		return NewValidationError("monitor", "fetch_limit", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	s := cfg.Server
	if s.HTTPAddr == "" {
		return NewValidationError("server", "http_addr", fmt.Errorf("%w: required", ErrInvalidValue))
	}
	if s.WSWriteTimeout <= 0 {
		return NewValidationError("server", "ws_write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.CatchupLimit <= 0 || s.HistoryLimit <= 0 {
		return NewValidationError("server", "catchup_limit", fmt.Errorf("%w: limits must be positive", ErrInvalidValue))
	}

	if cfg.Ingest.MaxBatch <= 0 {
		return NewValidationError("ingest", "max_batch", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	ret := cfg.Retention
	if ret.EventTTL <= 0 {
		return NewValidationError("retention", "event_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ret.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	for i, p := range cfg.Masking.Patterns {
		field := fmt.Sprintf("patterns[%d]", i)
		if strings.TrimSpace(p.Pattern) == "" {
			return NewValidationError("masking", field, fmt.Errorf("%w: pattern is required", ErrInvalidValue))
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("masking", field, fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}
