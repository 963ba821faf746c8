package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ProviderWhisperCpp = "whispercpp"
	ProviderWhisperKit = "whisperkit"

	DefaultLocalModel = "models/ggml-large-v3-turbo.bin"
)

const defaultCleanupInstructions = "You clean raw speech-to-text transcripts into final user-ready text. " +
	"Preserve meaning, intent, entities, and factual content. " +
	"Remove filler words, false starts, repeated fragments, and disfluencies. " +
	"If the speaker revises or retracts earlier content, keep only the latest surviving intent. " +
	"When there are corrections, compress to a concise final statement of the surviving intent. " +
	"Never include discarded alternatives together with the final chosen option. " +
	"If there is no disfluency or correction, keep text unchanged. " +
	"Keep the original language and tone. " +
	"Return plain text only, with no labels like 'Cleaned:'. " +
	"Do not add new information. " +
	"Return only the cleaned final text."

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:8765"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"300s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// MaxUploadBytes caps the multipart body accepted by POST /transcribe.
	MaxUploadBytes int64 `env:"DICTATION_MAX_UPLOAD_BYTES" envDefault:"104857600"`

	Model        string `env:"DICTATION_MODEL"`
	ModelDir     string `env:"DICTATION_MODEL_DIR" envDefault:"models/ggml-large-v3-turbo.bin"`
	SettingsFile string `env:"DICTATION_SETTINGS_FILE" envDefault:"~/Library/Application Support/OpenWhisper/settings.json"`
	ASRProvider  string `env:"DICTATION_ASR_PROVIDER" envDefault:"whispercpp"`
	TmpDir       string `env:"DICTATION_TMP_DIR"`

	WhisperCppBin   string `env:"DICTATION_WHISPERCPP_BIN"`
	PreprocessAudio bool   `env:"DICTATION_PREPROCESS_AUDIO" envDefault:"false"`

	WhisperKitEndpoint       string  `env:"DICTATION_WHISPERKIT_ENDPOINT" envDefault:"http://127.0.0.1:50060/v1/audio/transcriptions"`
	WhisperKitModel          string  `env:"DICTATION_WHISPERKIT_MODEL" envDefault:"large-v3"`
	WhisperKitTimeoutSeconds float64 `env:"DICTATION_WHISPERKIT_TIMEOUT_SECONDS" envDefault:"30"`
	WhisperKitLanguage       string  `env:"DICTATION_WHISPERKIT_LANGUAGE"`
	WhisperKitPrompt         string  `env:"DICTATION_WHISPERKIT_PROMPT"`

	LogTranscripts bool   `env:"DICTATION_LOG_TRANSCRIPTS" envDefault:"true"`
	TokenFile      string `env:"DICTATION_ASR_TOKEN_FILE" envDefault:"~/.dictation/asr-token"`

	CleanupEnabled        bool          `env:"DICTATION_CLEANUP_ENABLED" envDefault:"false"`
	CleanupInstructions   string        `env:"DICTATION_CLEANUP_INSTRUCTIONS"`
	CleanupUserDictionary string        `env:"DICTATION_CLEANUP_USER_DICTIONARY"`
	CleanupBaseURL        string        `env:"DICTATION_CLEANUP_BASE_URL" envDefault:"http://127.0.0.1:11434/v1"`
	CleanupModel          string        `env:"DICTATION_CLEANUP_MODEL" envDefault:"llama3.2"`
	CleanupAPIKey         string        `env:"DICTATION_CLEANUP_API_KEY"`
	CleanupTimeout        time.Duration `env:"DICTATION_CLEANUP_TIMEOUT" envDefault:"20s"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	ASRProvider string
	TokenFile   string
}

// Load reads configuration from .env files, environment variables, the app
// settings file, and CLI overrides.
// Priority: CLI flags > environment variables > app settings file > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Snapshot which variables the real environment sets before .env files
	// add their own; only those may shadow the app settings file.
	explicit := explicitEnv()

	// godotenv never overwrites a variable that is already set, so the more
	// specific file is loaded first.
	envFiles := []string{".env.local", ".env"}
	if overrides.EnvFile != "" {
		envFiles = []string{overrides.EnvFile}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.CleanupInstructions == "" {
		cfg.CleanupInstructions = defaultCleanupInstructions
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = filepath.Join(os.TempDir(), "dictation-asr")
	}

	cfg.ModelDir = ExpandUser(cfg.ModelDir)
	cfg.SettingsFile = ExpandUser(cfg.SettingsFile)
	cfg.TmpDir = ExpandUser(cfg.TmpDir)
	cfg.TokenFile = ExpandUser(cfg.TokenFile)

	settings := LoadAppSettings(cfg.SettingsFile)
	settings.apply(cfg, explicit)

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ASRProvider != "" {
		cfg.ASRProvider = overrides.ASRProvider
	}
	if overrides.TokenFile != "" {
		cfg.TokenFile = ExpandUser(overrides.TokenFile)
	}

	return cfg, nil
}

// ResolvedModelID picks the local model: an explicit DICTATION_MODEL wins,
// then DICTATION_MODEL_DIR when it exists on disk, then the bundled default.
func (c *Config) ResolvedModelID() string {
	if c.Model != "" {
		return c.Model
	}
	if _, err := os.Stat(c.ModelDir); err == nil {
		return c.ModelDir
	}
	return DefaultLocalModel
}

// WhisperKitTimeout returns the remote request timeout.
func (c *Config) WhisperKitTimeout() time.Duration {
	return time.Duration(c.WhisperKitTimeoutSeconds * float64(time.Second))
}

// CleanupDictionaryTerms splits the user dictionary on commas, semicolons and
// newlines.
func (c *Config) CleanupDictionaryTerms() []string {
	return ParseDictionary(c.CleanupUserDictionary)
}

func ParseDictionary(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	var terms []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// ExpandUser replaces a leading ~ with the current user's home directory.
func ExpandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func explicitEnv() map[string]bool {
	keys := []string{
		"DICTATION_ASR_PROVIDER",
		"DICTATION_WHISPERKIT_MODEL",
		"DICTATION_WHISPERKIT_LANGUAGE",
		"DICTATION_CLEANUP_ENABLED",
		"DICTATION_CLEANUP_USER_DICTIONARY",
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); ok {
			set[k] = true
		}
	}
	return set
}
