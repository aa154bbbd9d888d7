// Copyright 2025 Blink Labs Software
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

package database

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const lockShards = 64

// keyedMutex serializes work on a single record id while leaving distinct
// ids independent. Ids hash onto a fixed set of shards, so unrelated ids may
// occasionally share a shard.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{}
}

func (k *keyedMutex) Lock(id string) func() {
	m := &k.shards[xxh3.HashString(id)%lockShards]
	m.Lock()
	return m.Unlock
}
