package database

import (
	"github.com/caarlos0/env/v11"
)

// Config holds the store configuration. Values come from the environment;
// main may override them from flags.
type Config struct {
	URL              string `env:"LIBSQL_URL" envDefault:"file:./knowledge.db"`
	AuthToken        string `env:"LIBSQL_AUTH_TOKEN"`
	ProjectsDir      string `env:"PROJECTS_DIR"`
	MultiProjectMode bool   `env:"MULTI_PROJECT_MODE"`
	EmbeddingDims    int    `env:"EMBEDDING_DIMS" envDefault:"4"`

	MaxOpenConns   int `env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns   int `env:"DB_MAX_IDLE_CONNS"`
	ConnMaxIdleSec int `env:"DB_CONN_MAX_IDLE_SEC"`
	ConnMaxLifeSec int `env:"DB_CONN_MAX_LIFE_SEC"`

	EmbeddingsProvider string `env:"EMBEDDINGS_PROVIDER"`
}

// NewConfig parses the store configuration from the environment.
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
