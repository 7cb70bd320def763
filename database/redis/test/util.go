package test

import (
	"context"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	goredis "github.com/redis/go-redis/v9"
)

const (
	containerName     = "redis"
	containerVersion  = "7-alpine"
	containerAutoKill = 120 // seconds
)

// StartRedis starts a throwaway redis container and returns its url.
func StartRedis(pool *dockertest.Pool) (string, func(), error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, fmt.Errorf("could not start resource: %w", err)
	}

	if err := resource.Expire(containerAutoKill); err != nil {
		return "", nil, err
	}

	url := "redis://" + resource.GetHostPort("6379/tcp") + "/0"
	cleanup := func() {
		_ = pool.Purge(resource)
	}
	return url, cleanup, nil
}

// WaitForConnection retries until redis answers a ping.
func WaitForConnection(pool *dockertest.Pool, url string) (*goredis.Client, error) {
	pool.MaxWait = containerAutoKill * time.Second

	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)

	err = pool.Retry(func() error {
		return client.Ping(context.Background()).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return client, nil
}
