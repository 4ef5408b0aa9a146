package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionBlob struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func TestMemoryStore_roundTrip(t *testing.T) {
	svc := NewMemoryService()
	store := svc.NewStore("monitor", "session", "a1", "s1")

	var missing sessionBlob
	assert.ErrorIs(t, store.Load(&missing), ErrPersistenceNotExists)

	require.NoError(t, store.Save(sessionBlob{Key: "a1/s1", Count: 3}))

	var got sessionBlob
	require.NoError(t, store.Load(&got))
	assert.Equal(t, sessionBlob{Key: "a1/s1", Count: 3}, got)

	require.NoError(t, store.Reset())
	assert.ErrorIs(t, store.Load(&got), ErrPersistenceNotExists)
}

func TestJsonStore_roundTrip(t *testing.T) {
	svc := &JsonPersistenceService{Directory: t.TempDir()}
	store := svc.NewStore("monitor", "session", "a1", "s1")

	var missing sessionBlob
	assert.ErrorIs(t, store.Load(&missing), ErrPersistenceNotExists)

	require.NoError(t, store.Save(sessionBlob{Key: "a1/s1", Count: 3}))

	var got sessionBlob
	require.NoError(t, store.Load(&got))
	assert.Equal(t, sessionBlob{Key: "a1/s1", Count: 3}, got)

	require.NoError(t, store.Reset())
	assert.ErrorIs(t, store.Load(&got), ErrPersistenceNotExists)

	// reset again is a no-op
	require.NoError(t, store.Reset())
}

func TestPersistenceServiceFacade_Select(t *testing.T) {
	facade := &PersistenceServiceFacade{}
	assert.NotNil(t, facade.Select(), "empty facade falls back to memory")

	mem := NewMemoryService()
	facade = &PersistenceServiceFacade{Memory: mem}
	assert.Equal(t, PersistenceService(mem), facade.Select())

	js := &JsonPersistenceService{Directory: t.TempDir()}
	facade = &PersistenceServiceFacade{Memory: mem, Json: js}
	assert.Equal(t, PersistenceService(js), facade.Select(), "json wins over memory")
}
