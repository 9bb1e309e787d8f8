// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var errNotFound = errors.New("kv: not found")

// MemDB an in-memory Store for tests and ephemeral runs.
type MemDB struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMem creates an empty in-memory store.
func NewMem() *MemDB {
	return &MemDB{m: make(map[string][]byte)}
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.m[string(key)]
	if !ok {
		return nil, errNotFound
	}
	return append([]byte(nil), v...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.m[string(key)]
	return ok, nil
}

func (db *MemDB) IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func (db *MemDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.m, string(key))
	return nil
}

func (db *MemDB) NewIterator(prefix []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var keys []string
	for k := range db.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	it := &memIterator{db: db, keys: keys, index: -1}
	return it
}

func (db *MemDB) Close() error { return nil }

type memIterator struct {
	db    *MemDB
	keys  []string
	index int
	value []byte
}

func (it *memIterator) Next() bool {
	it.index++
	if it.index >= len(it.keys) {
		return false
	}
	it.db.mu.RLock()
	it.value = it.db.m[it.keys[it.index]]
	it.db.mu.RUnlock()
	return true
}

func (it *memIterator) Release()       {}
func (it *memIterator) Error() error   { return nil }
func (it *memIterator) Key() []byte    { return []byte(it.keys[it.index]) }
func (it *memIterator) Value() []byte  { return it.value }
