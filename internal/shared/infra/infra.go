// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Store：运行登记表（SQLite / PostgreSQL / MongoDB / 内存）
//   - EventBus：Run 阶段事件总线（Redis Streams 或进程内）
//   - Queue：生成任务队列（Redis Streams，仅队列模式）
//   - Objects：压缩包镜像（MinIO，可选）
package infra

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chemsim/internal/config"
	"chemsim/internal/shared/eventbus"
	"chemsim/internal/shared/objstore"
	"chemsim/internal/shared/queue"
	"chemsim/internal/shared/storage"
	pgdriver "chemsim/internal/shared/storage/driver/postgres"
	sqlitedriver "chemsim/internal/shared/storage/driver/sqlite"
	"chemsim/internal/shared/storage/mongostore"
	"chemsim/internal/shared/storage/repository"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Store 运行登记表
	Store storage.RunStore

	// EventBus Run 事件总线
	EventBus eventbus.RunEventBus

	// Queue 生成任务队列，本地模式下为 nil
	Queue queue.RunQueue

	// Objects 对象存储客户端，未启用时为 nil
	Objects *objstore.Client

	redis *RedisInfra
}

// New 根据配置初始化基础设施
//
// 队列模式要求 Redis 可用，且登记表不能是进程内存储。
func New(cfg *config.Config) (*Infrastructure, error) {
	if cfg.QueueMode() && cfg.DatabaseDriver == "memory" {
		return nil, fmt.Errorf("dispatch mode queue requires a shared database, got driver %q", cfg.DatabaseDriver)
	}

	store, err := OpenRunStore(cfg)
	if err != nil {
		return nil, err
	}
	i := &Infrastructure{Store: store}

	if cfg.Redis.Enabled || cfg.QueueMode() {
		r, err := NewRedisInfra(cfg.RedisURL)
		if err != nil {
			i.Close()
			return nil, err
		}
		i.redis = r
		i.EventBus = r
		if cfg.QueueMode() {
			i.Queue = r
		}
	} else {
		i.EventBus = eventbus.NewMemoryEventBus()
	}

	if cfg.MinIO.Enabled {
		client, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Printf("[infra.minio] disabled: %v", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = client.EnsureBucket(ctx)
			cancel()
			if err != nil {
				log.Printf("[infra.minio] disabled: %v", err)
			} else {
				i.Objects = client
				log.Printf("[infra.minio] mirroring archives to bucket=%s", client.Bucket())
			}
		}
	}

	return i, nil
}

// OpenRunStore 按驱动类型打开运行登记表
func OpenRunStore(cfg *config.Config) (storage.RunStore, error) {
	switch cfg.DatabaseDriver {
	case "memory":
		log.Println("[infra.store] using in-memory run registry")
		return storage.NewMemoryStore(), nil

	case "sqlite":
		if path := sqlitePath(cfg.DatabaseURL); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err := sqlitedriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := sqlitedriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate: %w", err)
		}
		log.Println("[infra.store] connected to sqlite")
		return repository.NewStore(db, dialect), nil

	case "postgres":
		db, err := pgdriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := pgdriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		log.Println("[infra.store] connected to postgres")
		return repository.NewStore(db, dialect), nil

	case "mongodb":
		name := cfg.DatabaseName
		if name == "" {
			name = "chemsim"
		}
		store, err := mongostore.NewStore(cfg.DatabaseURL, name)
		if err != nil {
			return nil, err
		}
		log.Printf("[infra.store] connected to mongodb db=%s", name)
		return store, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}

// sqlitePath 从 DSN 中取出文件路径，内存库返回空
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(strings.TrimPrefix(dsn, "file:"), "sqlite:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			lastErr = err
		}
	}

	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			lastErr = err
		}
	} else if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewMemoryInfrastructure 创建进程内基础设施（用于测试）
func NewMemoryInfrastructure() *Infrastructure {
	return &Infrastructure{
		Store:    storage.NewMemoryStore(),
		EventBus: eventbus.NewMemoryEventBus(),
	}
}
