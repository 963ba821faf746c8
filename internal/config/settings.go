package config

import (
	"encoding/json"
	"os"
	"strings"
)

// AppSettings is the subset of the desktop app's settings.json that the
// server honours. Any read or parse failure yields an empty value.
type AppSettings map[string]any

// LoadAppSettings reads the desktop app's settings file. A missing, unreadable
// or malformed file is treated as empty.
func LoadAppSettings(path string) AppSettings {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppSettings{}
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil || parsed == nil {
		return AppSettings{}
	}
	return AppSettings(parsed)
}

// apply overlays settings onto cfg for every key whose env var was not set
// explicitly in the process environment.
func (s AppSettings) apply(cfg *Config, explicit map[string]bool) {
	if !explicit["DICTATION_ASR_PROVIDER"] {
		if v, ok := s["asrProvider"].(string); ok && (v == ProviderWhisperCpp || v == ProviderWhisperKit) {
			cfg.ASRProvider = v
		}
	}
	if !explicit["DICTATION_WHISPERKIT_MODEL"] {
		if v, ok := s["whisperkitModel"].(string); ok && strings.TrimSpace(v) != "" {
			cfg.WhisperKitModel = strings.TrimSpace(v)
		}
	}
	if !explicit["DICTATION_WHISPERKIT_LANGUAGE"] {
		if v, ok := s["whisperkitLanguage"].(string); ok {
			cfg.WhisperKitLanguage = strings.TrimSpace(v)
		}
	}
	if !explicit["DICTATION_CLEANUP_ENABLED"] {
		if v, ok := s["cleanupEnabled"].(bool); ok {
			cfg.CleanupEnabled = v
		}
	}
	if !explicit["DICTATION_CLEANUP_USER_DICTIONARY"] {
		if v, ok := s["cleanupUserDictionary"].(string); ok {
			cfg.CleanupUserDictionary = v
		}
	}
}
