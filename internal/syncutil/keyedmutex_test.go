package syncutil

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km KeyedMutex
	var wg sync.WaitGroup

	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("esc_abc")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var km KeyedMutex

	held := "transaction-a"
	unlockA := km.Lock(held)
	defer unlockA()

	// Find a key on a different shard; it must not block behind the first.
	other := ""
	for _, key := range []string{"transaction-b", "transaction-c", "transaction-d"} {
		if shardIndex(key) != shardIndex(held) {
			other = key
			break
		}
	}
	if other == "" {
		t.Skip("probe keys all collide with held shard")
	}

	unlockB := km.Lock(other)
	unlockB()
}

func TestKeyedMutex_UnlockReleases(t *testing.T) {
	var km KeyedMutex

	unlock := km.Lock("same")
	unlock()

	// Re-acquiring after unlock must not deadlock.
	unlock = km.Lock("same")
	unlock()
}

func TestShardIndex_InRange(t *testing.T) {
	for _, key := range []string{"", "a", "esc_123", "long-key-with-many-characters"} {
		if idx := shardIndex(key); idx >= keyedShards {
			t.Fatalf("shardIndex(%q) = %d, out of range", key, idx)
		}
	}
}
