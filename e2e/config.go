package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CHAT_ADDR is the base url of a running server, e.g. http://localhost:8080
	ServerURL string `envconfig:"CHAT_ADDR"`
	// JWT_SECRET must match the server one to mint test identities
	JwtSecret string `envconfig:"JWT_SECRET"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
