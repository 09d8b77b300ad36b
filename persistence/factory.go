package persistence

import "fmt"

// NewMessageStore creates a MessageStore for the configured backend.
func NewMessageStore(cfg StoreConfig) (MessageStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryMessageStore(), nil
	case StoreTypeFile:
		return NewFileMessageStore(cfg)
	case StoreTypeRedis:
		return NewRedisMessageStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported message store type: %s", cfg.Type)
	}
}

// NewTaskStore creates a TaskStore for the configured backend.
func NewTaskStore(cfg StoreConfig) (TaskStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(), nil
	case StoreTypeFile:
		return NewFileTaskStore(cfg)
	case StoreTypeRedis:
		return NewRedisTaskStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", cfg.Type)
	}
}
