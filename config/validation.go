package config

import (
	"fmt"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validatePolymarket(&c.Polymarket)...)
	errors = append(errors, validateMonitor(&c.Monitor)...)
	errors = append(errors, validateLedger(&c.Ledger)...)
	errors = append(errors, validateExecution(&c.Execution)...)
	errors = append(errors, validateSessionDefaults(&c.SessionDefaults)...)
	errors = append(errors, validateStorage(&c.Storage)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validatePolymarket(p *PolymarketConfig) []ValidationError {
	var errors []ValidationError

	if p.DataAPIURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket.data_api_url",
			Message: "must not be empty",
		})
	}
	if p.ClobURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket.clob_url",
			Message: "must not be empty",
		})
	}
	if p.ChainID != 137 && p.ChainID != 80002 {
		errors = append(errors, ValidationError{
			Field:   "polymarket.chain_id",
			Message: fmt.Sprintf("must be 137 or 80002, got %d", p.ChainID),
		})
	}

	return errors
}

func validateMonitor(m *MonitorConfig) []ValidationError {
	var errors []ValidationError

	if m.TickInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.tick_interval",
			Message: "must be at least 1 second",
		})
	}
	if m.MinSleep < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.min_sleep",
			Message: "must be at least 1 second",
		})
	}
	if m.ErrorBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.error_backoff",
			Message: "must be non-negative",
		})
	}
	if m.ExitCheckEvery < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.exit_check_every",
			Message: "must be at least 1 second",
		})
	}
	if m.RecentWindow < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.recent_window",
			Message: "must be at least 1 second",
		})
	}
	if m.ActivityLimit < 1 || m.ActivityLimit > 500 {
		errors = append(errors, ValidationError{
			Field:   "monitor.activity_limit",
			Message: "must be between 1 and 500",
		})
	}
	if m.SnapshotInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.snapshot_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateLedger(l *LedgerConfig) []ValidationError {
	var errors []ValidationError

	if l.DedupWindow < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ledger.dedup_window",
			Message: "must be at least 1 second",
		})
	}
	if l.DedupRetention < l.DedupWindow {
		errors = append(errors, ValidationError{
			Field:   "ledger.dedup_retention",
			Message: "must be at least dedup_window",
		})
	}
	if l.ThrottleWindow < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ledger.throttle_window",
			Message: "must be at least 1 second",
		})
	}
	if l.ThrottleMaxOrders < 1 {
		errors = append(errors, ValidationError{
			Field:   "ledger.throttle_max_orders",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateExecution(e *ExecutionConfig) []ValidationError {
	var errors []ValidationError

	if e.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_attempts",
			Message: "must be at least 1",
		})
	}
	if e.RetryBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.retry_backoff",
			Message: "must be non-negative",
		})
	}
	if e.CredentialTTL < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "execution.credential_ttl",
			Message: "must be at least 1 minute",
		})
	}
	if e.SignatureType < 0 || e.SignatureType > 2 {
		errors = append(errors, ValidationError{
			Field:   "execution.signature_type",
			Message: "must be 0, 1 or 2",
		})
	}

	return errors
}

func validateSessionDefaults(s *SessionDefaultsConfig) []ValidationError {
	var errors []ValidationError

	if s.Duration < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.duration",
			Message: "must be at least 1 second",
		})
	}
	if s.MinNotional < 0 {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.min_notional",
			Message: "must be non-negative",
		})
	}
	if s.MinPrice < 0 || s.MinPrice > 1 {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.min_price",
			Message: "must be between 0 and 1",
		})
	}
	if s.MaxPrice < 0 || s.MaxPrice > 1 {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.max_price",
			Message: "must be between 0 and 1",
		})
	}
	if s.MinPrice >= s.MaxPrice {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.max_price",
			Message: "must be greater than min_price",
		})
	}
	if s.Margin < 0 {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.margin",
			Message: "must be non-negative",
		})
	}
	if s.StopLossPercent != nil && (*s.StopLossPercent >= 0 || *s.StopLossPercent < -100) {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.stop_loss_percent",
			Message: "must be between -100 and 0 (exclusive of 0)",
		})
	}
	if s.TakeProfitPercent != nil && *s.TakeProfitPercent <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session_defaults.take_profit_percent",
			Message: "must be positive",
		})
	}

	return errors
}

func validateStorage(s *StorageConfig) []ValidationError {
	var errors []ValidationError

	switch s.Backend {
	case "memory":
	case "postgres":
		if s.PostgresDSN == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.postgres_dsn",
				Message: "required when backend is postgres",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("must be memory or postgres, got %q", s.Backend),
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}
