package service

import "time"

// PersistenceService hands out keyed Stores. Backends: memory, json file,
// redis.
type PersistenceService interface {
	NewStore(id string, subIDs ...string) Store
}

// Store is a single persistence slot.
type Store interface {
	Load(val interface{}) error
	Save(val interface{}) error
	Reset() error
}

// Expirable lets a value carry its own TTL into backends that support one.
type Expirable interface {
	Expiration() time.Duration
}

type RedisPersistenceConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      string `yaml:"port" json:"port"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db" json:"db"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

type JsonPersistenceConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// PersistenceServiceFacade bundles the configured backends. Select picks
// the preferred configured backend, falling back to memory.
type PersistenceServiceFacade struct {
	Redis  *RedisPersistenceService
	Json   *JsonPersistenceService
	Memory *MemoryService
}

func (f *PersistenceServiceFacade) Select() PersistenceService {
	if f.Redis != nil {
		return f.Redis
	}
	if f.Json != nil {
		return f.Json
	}
	if f.Memory != nil {
		return f.Memory
	}
	return NewMemoryService()
}
