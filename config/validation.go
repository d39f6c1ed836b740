package config

import (
	"strings"
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

	errors = append(errors, validateCognite(&c.Cognite)...)
	errors = append(errors, validateOpenAI(&c.OpenAI)...)
	errors = append(errors, validateDeposits(&c.Deposits)...)
	errors = append(errors, validateRefresh(&c.Refresh)...)
	errors = append(errors, validateDatabase(&c.Database)...)
	errors = append(errors, validateRedis(&c.Redis)...)
	errors = append(errors, validateServer(&c.Server)...)
	errors = append(errors, validateMCP(&c.MCP)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateCognite(cc *CogniteConfig) []ValidationError {
	var errors []ValidationError

	if cc.Space == "" {
		errors = append(errors, ValidationError{Field: "cognite.space", Message: "must not be empty"})
	}
	if cc.View == "" {
		errors = append(errors, ValidationError{Field: "cognite.view", Message: "must not be empty"})
	}
	if cc.ViewVersion == "" {
		errors = append(errors, ValidationError{Field: "cognite.view_version", Message: "must not be empty"})
	}
	if cc.ListLimit < 1 {
		errors = append(errors, ValidationError{Field: "cognite.list_limit", Message: "must be at least 1"})
	}
	if cc.BaseURL != "" && !strings.HasPrefix(cc.BaseURL, "http") {
		errors = append(errors, ValidationError{Field: "cognite.base_url", Message: "must be an http(s) URL"})
	}
	if cc.Timeout < 1*time.Second {
		errors = append(errors, ValidationError{Field: "cognite.timeout", Message: "must be at least 1 second"})
	}

	return errors
}

func validateOpenAI(oc *OpenAIConfig) []ValidationError {
	var errors []ValidationError

	if oc.ProphetModel == "" {
		errors = append(errors, ValidationError{Field: "openai.prophet_model", Message: "must not be empty"})
	}
	if oc.KingModel == "" {
		errors = append(errors, ValidationError{Field: "openai.king_model", Message: "must not be empty"})
	}
	if oc.SnippetRows < 1 || oc.SnippetRows > 1000 {
		errors = append(errors, ValidationError{Field: "openai.snippet_rows", Message: "must be between 1 and 1000"})
	}
	if oc.RequestsPerMinute < 1 {
		errors = append(errors, ValidationError{Field: "openai.requests_per_minute", Message: "must be at least 1"})
	}
	if oc.Timeout < 1*time.Second {
		errors = append(errors, ValidationError{Field: "openai.timeout", Message: "must be at least 1 second"})
	}

	return errors
}

func validateDeposits(dc *DepositsConfig) []ValidationError {
	var errors []ValidationError

	if _, err := dc.StartDate(); err != nil {
		errors = append(errors, ValidationError{Field: "deposits.start", Message: "must be a YYYY-MM-DD date"})
	}
	if dc.OffsetDays < 0 || dc.OffsetDays > 27 {
		errors = append(errors, ValidationError{Field: "deposits.offset_days", Message: "must be between 0 and 27"})
	}
	if dc.Amount < 0 {
		errors = append(errors, ValidationError{Field: "deposits.amount", Message: "must be non-negative"})
	}

	return errors
}

func validateRefresh(rc *RefreshConfig) []ValidationError {
	if rc.Interval < 30*time.Second {
		return []ValidationError{{Field: "refresh.interval", Message: "must be at least 30 seconds"}}
	}
	return nil
}

func validateDatabase(dc *DatabaseConfig) []ValidationError {
	var errors []ValidationError

	if dc.MaxOpenConns < 1 {
		errors = append(errors, ValidationError{Field: "database.max_open_conns", Message: "must be at least 1"})
	}
	if dc.MaxIdleConns < 0 || dc.MaxIdleConns > dc.MaxOpenConns {
		errors = append(errors, ValidationError{Field: "database.max_idle_conns", Message: "must be between 0 and max_open_conns"})
	}
	if dc.QueryTimeout < 100*time.Millisecond {
		errors = append(errors, ValidationError{Field: "database.query_timeout", Message: "must be at least 100ms"})
	}

	return errors
}

func validateRedis(rc *RedisConfig) []ValidationError {
	var errors []ValidationError

	if rc.SnapshotTTL < 0 {
		errors = append(errors, ValidationError{Field: "redis.snapshot_ttl", Message: "must be non-negative"})
	}
	if rc.KeyPrefix == "" {
		errors = append(errors, ValidationError{Field: "redis.key_prefix", Message: "must not be empty"})
	}

	return errors
}

func validateServer(sc *ServerConfig) []ValidationError {
	var errors []ValidationError

	if sc.Port < 1 || sc.Port > 65535 {
		errors = append(errors, ValidationError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	if sc.ReadTimeout < 1*time.Second {
		errors = append(errors, ValidationError{Field: "server.read_timeout", Message: "must be at least 1 second"})
	}
	if sc.WriteTimeout < 1*time.Second {
		errors = append(errors, ValidationError{Field: "server.write_timeout", Message: "must be at least 1 second"})
	}

	return errors
}

func validateMCP(mc *MCPConfig) []ValidationError {
	if mc.Enabled && !strings.HasPrefix(mc.Path, "/") {
		return []ValidationError{{Field: "mcp.path", Message: "must start with /"}}
	}
	return nil
}
