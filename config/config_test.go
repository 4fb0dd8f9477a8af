package config

import (
	"strings"
	"testing"
	"time"

	"livecap/quota"
	"livecap/recognizer"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EngineKind() != recognizer.Cloud || cfg.AccountTier() != quota.Free {
		t.Errorf("engine %q tier %q", cfg.Engine, cfg.Tier)
	}
	if cfg.ProbeInterval != 5*time.Minute || cfg.ProbeTimeout != 10*time.Second || cfg.RestartDelay != 300*time.Millisecond {
		t.Errorf("timings = %v %v %v", cfg.ProbeInterval, cfg.ProbeTimeout, cfg.RestartDelay)
	}
	if cfg.BuiltInURL != recognizer.DefaultBuiltInURL {
		t.Errorf("BuiltInURL = %q", cfg.BuiltInURL)
	}
	if cfg.DeepgramModel != recognizer.DefaultDeepgramModel {
		t.Errorf("DeepgramModel = %q, want %q", cfg.DeepgramModel, recognizer.DefaultDeepgramModel)
	}
	if cfg.TranslationBreakerThreshold != 0 {
		t.Errorf("breaker should be off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LIVECAP_ENGINE", "built-in")
	t.Setenv("LIVECAP_TIER", "pro")
	t.Setenv("LIVECAP_TRANSLATE", "true")
	t.Setenv("LIVECAP_TARGET_LANG", "es")
	t.Setenv("LIVECAP_TRANSLATION_PROVIDER", "libre")
	t.Setenv("LIVECAP_PROBE_INTERVAL", "1m")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EngineKind() != recognizer.BuiltIn || cfg.AccountTier() != quota.Pro {
		t.Errorf("engine %q tier %q", cfg.Engine, cfg.Tier)
	}
	if !cfg.Translate || cfg.TargetLanguage != "es" || cfg.TranslationProvider != "libre" {
		t.Errorf("translation = %+v", cfg)
	}
	if cfg.ProbeInterval != time.Minute {
		t.Errorf("ProbeInterval = %v", cfg.ProbeInterval)
	}
	if cfg.DeepgramAPIKey != "dg-key" {
		t.Errorf("DeepgramAPIKey = %q", cfg.DeepgramAPIKey)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"engine", map[string]string{"LIVECAP_ENGINE": "whisper"}, "ENGINE"},
		{"tier", map[string]string{"LIVECAP_TIER": "gold"}, "TIER"},
		{"target", map[string]string{"LIVECAP_TRANSLATE": "true"}, "TARGET_LANG"},
		{"provider", map[string]string{"LIVECAP_TRANSLATE": "true", "LIVECAP_TARGET_LANG": "de", "LIVECAP_TRANSLATION_PROVIDER": "babel"}, "PROVIDER"},
		{"duration", map[string]string{"LIVECAP_PROBE_TIMEOUT": "soon"}, "parse environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
