package contacts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UserID   string
}

// Redis reads contacts stored as a list of JSON objects at user:{id}:contacts.
type Redis struct {
	client *redis.Client
	userID string
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("contacts: redis user id is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("contacts: failed to connect to redis: %w", err)
	}

	return &Redis{client: client, userID: cfg.UserID}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func contactsKey(userID string) string {
	return fmt.Sprintf("user:%s:contacts", userID)
}

func (r *Redis) Contacts(ctx context.Context) ([]Contact, error) {
	vals, err := r.client.LRange(ctx, contactsKey(r.userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("contacts: redis lrange failed: %w", err)
	}
	out := make([]Contact, 0, len(vals))
	for _, v := range vals {
		var c Contact
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("contacts: decode redis entry: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
