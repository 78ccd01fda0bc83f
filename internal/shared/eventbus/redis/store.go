// Package redis 基于 Redis Streams 的 Run 事件总线
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Store Redis 事件总线
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 从现有 Redis 客户端创建事件总线
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}
