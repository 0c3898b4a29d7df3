package gateway

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config describes the tool gateway configuration.
type Config struct {
	Issuer            string
	ResourceServerURL string
	RequiredScope     string
	Audience          string
	ProtectedTools    map[string]bool
}

type gatewayEnv struct {
	Issuer            string   `env:"SIAC_GATEWAY_ISSUER"          envDefault:"https://auth.siac-app.com"`
	ResourceServerURL string   `env:"SIAC_GATEWAY_RESOURCE_URL"    envDefault:"https://api.siac-app.com/mcp"`
	RequiredScope     string   `env:"SIAC_GATEWAY_REQUIRED_SCOPE"  envDefault:"siac.user.full_access"`
	Audience          string   `env:"SIAC_GATEWAY_AUDIENCE"        envDefault:"siac-assistant"`
	ProtectedTools    []string `env:"SIAC_GATEWAY_PROTECTED_TOOLS" envDefault:"siac.register_template,siac.send_broadcast"`
}

// LoadConfigFromEnv loads gateway configuration from environment variables.
func LoadConfigFromEnv() Config {
	var raw gatewayEnv
	if err := env.Parse(&raw); err != nil {
		return defaultConfig()
	}

	protected := make(map[string]bool, len(raw.ProtectedTools))
	for _, name := range raw.ProtectedTools {
		name = strings.TrimSpace(name)
		if name != "" {
			protected[name] = true
		}
	}

	return Config{
		Issuer:            strings.TrimRight(raw.Issuer, "/"),
		ResourceServerURL: strings.TrimRight(raw.ResourceServerURL, "/"),
		RequiredScope:     raw.RequiredScope,
		Audience:          raw.Audience,
		ProtectedTools:    protected,
	}
}

func defaultConfig() Config {
	return Config{
		Issuer:            "https://auth.siac-app.com",
		ResourceServerURL: "https://api.siac-app.com/mcp",
		RequiredScope:     "siac.user.full_access",
		Audience:          "siac-assistant",
		ProtectedTools: map[string]bool{
			"siac.register_template": true,
			"siac.send_broadcast":    true,
		},
	}
}
