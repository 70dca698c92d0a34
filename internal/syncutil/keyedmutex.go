// Package syncutil provides small concurrency helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// keyedShards is the number of mutexes backing a KeyedMutex. Distinct keys
// that hash to the same shard contend with each other, which is acceptable:
// the pool stays fixed-size no matter how many keys pass through it.
const keyedShards = 128

// KeyedMutex serializes work per string key using a fixed pool of mutexes.
// The zero value is ready to use.
type KeyedMutex struct {
	shards [keyedShards]sync.Mutex
}

// Lock acquires the mutex for key and returns the matching unlock func.
//
//	unlock := km.Lock(code)
//	defer unlock()
func (km *KeyedMutex) Lock(key string) func() {
	mu := &km.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % keyedShards
}
