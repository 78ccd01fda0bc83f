// Package redis 基于 Redis Streams 的生成任务队列
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Store Redis 队列
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 从现有 Redis 客户端创建队列
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}
