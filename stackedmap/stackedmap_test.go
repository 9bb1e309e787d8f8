// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stackedmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/stackedmap"
)

func TestStackedMap(t *testing.T) {
	src := map[string]int{"base": 1}
	sm := stackedmap.New(func(key string) (int, bool, error) {
		v, ok := src[key]
		return v, ok, nil
	})

	sm.Push()
	sm.Put("a", 10)

	v, ok, err := sm.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	v, ok, _ = sm.Get("base")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	depth := sm.Push()
	sm.Put("a", 20)
	sm.Put("b", 30)
	v, _, _ = sm.Get("a")
	assert.Equal(t, 20, v)

	sm.PopTo(depth)
	v, _, _ = sm.Get("a")
	assert.Equal(t, 10, v, "pop must revert puts since push")
	_, ok, _ = sm.Get("b")
	assert.False(t, ok)

	sm.Pop()
	_, ok, _ = sm.Get("a")
	assert.False(t, ok)
	assert.Zero(t, sm.Depth())
}

func TestStackedMapJournal(t *testing.T) {
	sm := stackedmap.New(func(string) (int, bool, error) { return 0, false, nil })
	sm.Push()
	sm.Put("a", 1)
	sm.Push()
	sm.Put("b", 2)

	var keys []string
	sm.Journal(func(k string, v int) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"a", "b"}, keys)
}
