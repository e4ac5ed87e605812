// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"regexp"
	"sync"
)

// RegexLRU is a bounded, single-writer-many-reader cache of compiled regular
// expressions, ceiling 100 per §4.B. No regex library appears anywhere in
// the retrieved pack, and this is a small bounded structure — following the
// teacher's own container/list + map idiom (plugin/tfd/vactors.go's queue)
// rather than reaching for an LRU dependency the corpus never shows.
type RegexLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type regexEntry struct {
	pattern string
	re      *regexp.Regexp
	err     error
}

// NewRegexLRU creates a cache bounded to capacity entries.
func NewRegexLRU(capacity int) *RegexLRU {
	if capacity <= 0 {
		capacity = 100
	}
	return &RegexLRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Compile returns the compiled regexp for pattern, compiling and caching it
// on a miss. Invalid patterns are cached too (as an error) so a
// persistently broken pattern does not recompile on every request; callers
// log-and-skip per §4.E.
func (c *RegexLRU) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	if el, ok := c.items[pattern]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*regexEntry)
		c.mu.Unlock()
		return entry.re, entry.err
	}
	c.mu.Unlock()

	re, err := regexp.Compile(pattern)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[pattern]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*regexEntry)
		return entry.re, entry.err
	}
	el := c.ll.PushFront(&regexEntry{pattern: pattern, re: re, err: err})
	c.items[pattern] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*regexEntry).pattern)
		}
	}
	return re, err
}

// Len reports the current number of cached entries, for tests and metrics.
func (c *RegexLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// InheritanceLRU caches a profile's resolved-inheritance result keyed by
// "<id>@<version>", so repeated requests against the same profile version
// never re-walk the extends chain.
type InheritanceLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type inheritanceEntry struct {
	key      string
	resolved interface{}
}

func NewInheritanceLRU(capacity int) *InheritanceLRU {
	if capacity <= 0 {
		capacity = 100
	}
	return &InheritanceLRU{capacity: capacity, ll: list.New(), items: make(map[string]*list.Element, capacity)}
}

func (c *InheritanceLRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*inheritanceEntry).resolved, true
}

func (c *InheritanceLRU) Put(key string, resolved interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*inheritanceEntry).resolved = resolved
		return
	}
	el := c.ll.PushFront(&inheritanceEntry{key: key, resolved: resolved})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*inheritanceEntry).key)
		}
	}
}
