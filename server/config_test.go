// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("CRON_API_KEY", "cron-key-for-scheduler")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://kraftcontent.ca", cfg.SiteURL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.WordPressEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SITE_URL", "https://blog.example.ca")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.ca, https://admin.example.ca")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://blog.example.ca", cfg.SiteURL)
	assert.Equal(t, []string{"https://app.example.ca", "https://admin.example.ca"}, cfg.AllowedOrigins)
}

func TestLoadConfigRejectsShortJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "too-short")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresTavilyKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TAVILY_API_KEY", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestWordPressEnabled(t *testing.T) {
	cfg := &Config{
		WordPressURL:      "https://blog.example.ca",
		WordPressUser:     "editor",
		WordPressPassword: "app-password",
	}
	assert.True(t, cfg.WordPressEnabled())

	cfg.WordPressPassword = ""
	assert.False(t, cfg.WordPressEnabled())
}
