package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Recordings struct {
		Dir string `yaml:"dir"`
	} `yaml:"recordings"`
	Providers struct {
		GoogleAPIKey   string `yaml:"google_api_key"`
		GeminiAPIKey   string `yaml:"gemini_api_key"`
		GeminiModel    string `yaml:"gemini_model"`
		VertexProject  string `yaml:"vertex_project"`
		VertexLocation string `yaml:"vertex_location"`
		VertexModel    string `yaml:"vertex_model"`
		VertexToken    string `yaml:"vertex_token"`
		LanguageCode   string `yaml:"language_code"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"providers"`
	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`
}

// Load reads the YAML config file (if present), then applies environment
// overrides. Credentials normally arrive through the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Config file is optional; env and defaults carry the rest.
		default:
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Recordings.Dir = "static/recordings"
	cfg.Providers.TimeoutSeconds = 45
	cfg.Redis.Prefix = "voxrelay:"
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	setIfEnv(&cfg.Providers.GoogleAPIKey, "GOOGLE_SPEECH_API_KEY")
	setIfEnv(&cfg.Providers.GeminiAPIKey, "GEMINI_API_KEY")
	setIfEnv(&cfg.Providers.VertexProject, "GOOGLE_CLOUD_PROJECT")
	setIfEnv(&cfg.Providers.VertexLocation, "GOOGLE_CLOUD_LOCATION")
	setIfEnv(&cfg.Providers.VertexModel, "VERTEX_GEMINI_MODEL")
	setIfEnv(&cfg.Providers.VertexToken, "VERTEX_ACCESS_TOKEN")
	setIfEnv(&cfg.Redis.Addr, "REDIS_ADDR")
}

func setIfEnv(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// MaskSecret shortens a credential for display, never revealing the middle.
func MaskSecret(v string) string {
	if len(v) < 8 {
		return "***"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
