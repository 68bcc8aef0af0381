// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-chat.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ProviderConfig: Completion endpoint, model and sampling parameters
//   - StorageConfig: Persistence backend selection and locations
//   - PersistenceConfig: Debounce window for saves
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*)
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := cloud.NewClient(cfg.CloudConfig(), log.Logger)
package config
