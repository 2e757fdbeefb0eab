package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/store"
)

// Environment variables shared by every command:
//
//	DREY_REDIS_URL      Redis connection URL (default redis://localhost:6379)
//	DREY_INSTANCE_NAME  key namespace (default "default")
//	DREY_CONFIG         path to drey.yml (policy defaults apply if unset/missing)

func instanceName() string {
	if name := os.Getenv("DREY_INSTANCE_NAME"); name != "" {
		return name
	}
	return "default"
}

func newStoreClient() (*store.Client, error) {
	redisURL := os.Getenv("DREY_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DREY_REDIS_URL: %w", err)
	}

	return store.NewClient(redisOpts, instanceName())
}

func loadPolicy() (config.Policy, error) {
	path := os.Getenv("DREY_CONFIG")
	if path == "" {
		return config.DefaultPolicy(), nil
	}

	f, err := config.Load(path)
	if err != nil {
		return config.Policy{}, err
	}
	return f.Policy, nil
}
