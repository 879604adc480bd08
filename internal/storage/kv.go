/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

// StringStore is a map-backed Engine holding string keys and values.
//
// Add, Retrieve and Delete are O(1). There is no internal locking; see the
// package documentation.
type StringStore struct {
	data map[string]string
}

// NewStringStore creates an empty StringStore.
func NewStringStore() *StringStore {
	return &StringStore{data: make(map[string]string)}
}

// Add inserts key or replaces its value. It never fails.
func (s *StringStore) Add(key, value string) error {
	s.data[key] = value
	return nil
}

// Retrieve returns the value for key, if present.
func (s *StringStore) Retrieve(key string) (string, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (s *StringStore) Delete(key string) bool {
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

// Len returns the number of stored keys.
func (s *StringStore) Len() int {
	return len(s.data)
}
