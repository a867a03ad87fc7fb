package hostlib

import "sync"

// VMap is a thread-safe generic map with read-write mutex protection.
// The worker registries and active-slot bookkeeping are built on it.
type VMap[kT comparable, vT any] struct {
	kv map[kT]vT
	mu sync.RWMutex
}

// NewVMap creates and returns a new empty VMap instance.
func NewVMap[kT comparable, vT any]() VMap[kT, vT] {
	return VMap[kT, vT]{
		kv: make(map[kT]vT),
	}
}

// Make initializes the internal map. Call this on a zero-value VMap.
func (vm *VMap[kT, vT]) Make() {
	vm.kv = make(map[kT]vT)
}

// Set stores a value for the given key with write lock protection.
func (vm *VMap[kT, vT]) Set(key kT, val vT) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.kv[key] = val
}

// Get retrieves a value for the given key with read lock protection.
// The second return reports presence.
func (vm *VMap[kT, vT]) Get(key kT) (val vT, ok bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	val, ok = vm.kv[key]
	return
}

// Len returns the number of entries.
func (vm *VMap[kT, vT]) Len() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return len(vm.kv)
}

// Keys returns all keys as a slice.
func (vm *VMap[kT, vT]) Keys() []kT {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	keys := make([]kT, 0, len(vm.kv))
	for key := range vm.kv {
		keys = append(keys, key)
	}
	return keys
}

// Range iterates over all key-value pairs with read lock protection.
// If f returns false, iteration stops early. f must not modify the map.
func (vm *VMap[kT, vT]) Range(f func(key kT, val vT) bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for k, v := range vm.kv {
		if !f(k, v) {
			return
		}
	}
}

// Delete removes a key from the map with write lock protection.
// If the key does not exist, this is a no-op.
func (vm *VMap[kT, vT]) Delete(key kT) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.kv, key)
}

// Pop removes and returns the value for key, reporting presence.
func (vm *VMap[kT, vT]) Pop(key kT) (val vT, ok bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	val, ok = vm.kv[key]
	if ok {
		delete(vm.kv, key)
	}
	return
}
