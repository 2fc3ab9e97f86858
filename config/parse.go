package config

import (
	"encoding/base64"
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

func Parse() (Config, error) {
	// .env is optional outside of local development
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse cfg: %v", err)
	}

	return cfg, nil
}

func (c AuthConfig) Secret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decode base64 jwt secret: %v", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return secret, nil
}

// OAuthConfigs returns client credentials for every provider that has a client id.
// Endpoints and scopes are filled in by the service.
func (c AuthConfig) OAuthConfigs() map[string]*oauth2.Config {
	configs := make(map[string]*oauth2.Config)
	if c.GitHubClientID != "" {
		configs["github"] = &oauth2.Config{
			ClientID:     c.GitHubClientID,
			ClientSecret: c.GitHubClientSecret,
			RedirectURL:  c.RedirectURL,
		}
	}
	if c.GoogleClientID != "" {
		configs["google"] = &oauth2.Config{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			RedirectURL:  c.RedirectURL,
		}
	}
	return configs
}
