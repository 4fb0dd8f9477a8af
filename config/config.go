// Package config loads runtime settings from LIVECAP_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"livecap/quota"
	"livecap/recognizer"
	"livecap/translator"
)

const Prefix = "LIVECAP_"

type Config struct {
	Engine         string `env:"ENGINE" envDefault:"cloud"`
	SourceLanguage string `env:"LANG" envDefault:"en"`
	TargetLanguage string `env:"TARGET_LANG"`
	Translate      bool   `env:"TRANSLATE"`
	SessionType    string `env:"SESSION_TYPE" envDefault:"lecture"`

	BuiltInURL     string `env:"BUILTIN_URL" envDefault:"ws://127.0.0.1:2700"`
	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY,unset"`
	DeepgramModel  string `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`

	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"5m"`
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	RestartDelay  time.Duration `env:"RESTART_DELAY" envDefault:"300ms"`

	TranslationProvider         string        `env:"TRANSLATION_PROVIDER" envDefault:"google"`
	TranslationEndpoint         string        `env:"TRANSLATION_ENDPOINT"`
	TranslationAPIKey           string        `env:"TRANSLATION_API_KEY,unset"`
	TranslationBreakerThreshold uint32        `env:"TRANSLATION_BREAKER_THRESHOLD" envDefault:"0"`
	TranslationBreakerCooldown  time.Duration `env:"TRANSLATION_BREAKER_COOLDOWN" envDefault:"30s"`

	AccountURL   string `env:"ACCOUNT_URL"`
	AccountToken string `env:"ACCOUNT_TOKEN,unset"`
	Tier         string `env:"TIER" envDefault:"free"`

	FloatingAddr string `env:"FLOATING_ADDR" envDefault:"127.0.0.1:7878"`
	Overlay      bool   `env:"OVERLAY" envDefault:"true"`
	CachePath    string `env:"CACHE_PATH"`

	LongPress time.Duration `env:"LONGPRESS" envDefault:"400ms"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: Prefix})
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	// DEEPGRAM_API_KEY is also accepted unprefixed.
	if cfg.DeepgramAPIKey == "" {
		var raw struct {
			Key string `env:"DEEPGRAM_API_KEY"`
		}
		if err := env.Parse(&raw); err == nil {
			cfg.DeepgramAPIKey = raw.Key
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := recognizer.ParseKind(c.Engine); err != nil {
		return fmt.Errorf("%sENGINE: %w", Prefix, err)
	}
	if _, err := quota.ParseTier(c.Tier); err != nil {
		return fmt.Errorf("%sTIER: %w", Prefix, err)
	}
	if c.Translate {
		if c.TargetLanguage == "" {
			return fmt.Errorf("%sTRANSLATE requires %sTARGET_LANG", Prefix, Prefix)
		}
		if !translator.Known(c.TranslationProvider) {
			return fmt.Errorf("%sTRANSLATION_PROVIDER: unknown provider %q", Prefix, c.TranslationProvider)
		}
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%sPROBE_TIMEOUT must be positive", Prefix)
	}
	return nil
}

func (c Config) EngineKind() recognizer.Kind {
	k, _ := recognizer.ParseKind(c.Engine)
	return k
}

func (c Config) AccountTier() quota.Tier {
	t, _ := quota.ParseTier(c.Tier)
	return t
}
