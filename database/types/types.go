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

package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrBlobKeyNotFound is returned by blob operations when a key is missing
var ErrBlobKeyNotFound = errors.New("blob key not found")

// ErrTxnWrongType is returned when a transaction has the wrong type
var ErrTxnWrongType = errors.New("invalid transaction type")

// ErrNilTxn is returned when a nil transaction is provided where a valid transaction is required
var ErrNilTxn = errors.New("nil transaction")

// ErrBlobStoreUnavailable is returned when blob store cannot be accessed
var ErrBlobStoreUnavailable = errors.New("blob store unavailable")

// Txn is a simple transaction handle for commit/rollback only.
type Txn interface {
	Commit() error
	Rollback() error
}

// JSONDocument holds an arbitrary well-formed JSON document in a text column
//
//nolint:recvcheck
type JSONDocument json.RawMessage

func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return "null", nil
	}
	if !json.Valid(d) {
		return nil, errors.New("invalid JSON document")
	}
	return string(d), nil
}

func (d *JSONDocument) Scan(val any) error {
	switch v := val.(type) {
	case nil:
		*d = nil
	case string:
		*d = JSONDocument(v)
	case []byte:
		*d = JSONDocument(slices.Clone(v))
	default:
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	return nil
}

func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return errors.New("invalid JSON document")
	}
	*d = JSONDocument(slices.Clone(data))
	return nil
}

// Field returns the string value of a top-level key, if the document is an object
func (d JSONDocument) Field(key string) string {
	var obj map[string]any
	if err := json.Unmarshal(d, &obj); err != nil {
		return ""
	}
	v, _ := obj[key].(string)
	return v
}

// WeightMap maps a reviewer wallet to the weight it contributed
//
//nolint:recvcheck
type WeightMap map[string]int

func (m WeightMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]int(m))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func (m *WeightMap) Scan(val any) error {
	data, err := scanBytes(val)
	if err != nil {
		return err
	}
	tmp := make(map[string]int)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tmp); err != nil {
			return err
		}
	}
	*m = tmp
	return nil
}

// Total returns the sum of all contributed weights
func (m WeightMap) Total() int {
	total := 0
	for _, w := range m {
		total += w
	}
	return total
}

// Clone returns an independent copy
func (m WeightMap) Clone() WeightMap {
	if m == nil {
		return WeightMap{}
	}
	return WeightMap(maps.Clone(map[string]int(m)))
}

// StringList is an ordered list of strings stored as a JSON array
//
//nolint:recvcheck
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	buf, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func (l *StringList) Scan(val any) error {
	data, err := scanBytes(val)
	if err != nil {
		return err
	}
	var tmp []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tmp); err != nil {
			return err
		}
	}
	*l = tmp
	return nil
}

func scanBytes(val any) ([]byte, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
}
