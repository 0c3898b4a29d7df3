package oauth

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes the authorization server configuration.
type Config struct {
	Issuer          string
	ResourceSecret  string
	DefaultScope    string
	Audience        string
	Clients         []Client
	BootstrapUsers  []BootstrapUser
	TokenTTL        time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration
}

// BootstrapUser seeds a local credentialed user at startup.
type BootstrapUser struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name"`
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// oauthEnv holds raw env values for the authorization server.
type oauthEnv struct {
	Issuer          string        `env:"SIAC_OAUTH_ISSUER"          envDefault:"https://auth.siac-app.com"`
	ResourceSecret  string        `env:"SIAC_OAUTH_RESOURCE_SECRET"`
	DefaultScope    string        `env:"SIAC_OAUTH_DEFAULT_SCOPE"   envDefault:"siac.user.full_access"`
	Audience        string        `env:"SIAC_OAUTH_AUDIENCE"        envDefault:"siac-assistant"`
	ClientsJSON     string        `env:"SIAC_OAUTH_CLIENTS"`
	UsersJSON       string        `env:"SIAC_OAUTH_USERS"`
	TokenTTL        time.Duration `env:"SIAC_OAUTH_TOKEN_TTL"       envDefault:"24h"`
	RefreshTokenTTL time.Duration `env:"SIAC_OAUTH_REFRESH_TTL"     envDefault:"720h"`
	CodeTTL         time.Duration `env:"SIAC_OAUTH_CODE_TTL"        envDefault:"10m"`
}

// LoadConfigFromEnv loads authorization server configuration from
// environment variables.
func LoadConfigFromEnv() Config {
	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return defaultConfig()
	}

	var clients []Client
	if raw.ClientsJSON != "" {
		if err := json.Unmarshal([]byte(raw.ClientsJSON), &clients); err != nil {
			clients = nil
		}
	}

	var users []BootstrapUser
	if raw.UsersJSON != "" {
		if err := json.Unmarshal([]byte(raw.UsersJSON), &users); err != nil {
			users = nil
		}
	}

	return Config{
		Issuer:          strings.TrimRight(raw.Issuer, "/"),
		ResourceSecret:  raw.ResourceSecret,
		DefaultScope:    raw.DefaultScope,
		Audience:        raw.Audience,
		Clients:         clients,
		BootstrapUsers:  users,
		TokenTTL:        raw.TokenTTL,
		RefreshTokenTTL: raw.RefreshTokenTTL,
		CodeTTL:         raw.CodeTTL,
	}
}

func defaultConfig() Config {
	return Config{
		Issuer:          "https://auth.siac-app.com",
		DefaultScope:    "siac.user.full_access",
		Audience:        "siac-assistant",
		TokenTTL:        24 * time.Hour,
		RefreshTokenTTL: 720 * time.Hour,
		CodeTTL:         10 * time.Minute,
	}
}
