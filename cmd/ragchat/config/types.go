// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultMaxAttempts    = 5
	DefaultReconnectDelay = 2 * time.Second
	DefaultTypingInterval = 3 * time.Second
)

type RagchatConfig struct {
	Meta ConfigMeta `yaml:"meta"`

	// Server: where the backend lives
	Server ServerConfig `yaml:"server"`

	// Chat: defaults for new chat sessions
	Chat ChatConfig `yaml:"chat"`

	// Reconnect: policy after an unexpected drop
	Reconnect ReconnectConfig `yaml:"reconnect"`

	Logging LoggingConfig `yaml:"logging"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Telemetry: OpenTelemetry export for API calls
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ConfigMeta struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	// BaseURL is the HTTP base, e.g. http://localhost:8000. The chat channel
	// is derived from it (http->ws, https->wss).
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

type ChatConfig struct {
	UseAugmentation bool          `yaml:"use_augmentation"`
	Model           string        `yaml:"model,omitempty"`
	TypingInterval  time.Duration `yaml:"typing_interval" validate:"gte=0"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=50"`
	Delay       time.Duration `yaml:"delay" validate:"gte=0"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Dir enables a JSON log file per day when set
	Dir string `yaml:"dir,omitempty"`
}

type OutputConfig struct {
	// Personality is full, minimal or machine. Empty means detect.
	Personality string `yaml:"personality,omitempty" validate:"omitempty,oneof=full minimal machine"`
}

type MetricsConfig struct {
	// Addr serves Prometheus /metrics when set, e.g. 127.0.0.1:9464
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"omitempty,oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the loaded values.
func (c RagchatConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func DefaultConfig() RagchatConfig {
	return RagchatConfig{
		Meta:   ConfigMeta{Version: CurrentConfigVersion},
		Server: ServerConfig{BaseURL: DefaultBaseURL},
		Chat: ChatConfig{
			UseAugmentation: false,
			TypingInterval:  DefaultTypingInterval,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: DefaultMaxAttempts,
			Delay:       DefaultReconnectDelay,
		},
		Logging: LoggingConfig{Level: "warn"},
		Telemetry: TelemetryConfig{
			Traces:       "none",
			Metrics:      "prometheus",
			OTLPInsecure: true,
		},
	}
}
