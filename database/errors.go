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
	"errors"
	"fmt"
	"strings"

	"github.com/legiau879778/suimusic-sub000/database/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrNotApproved       = errors.New("proof is not approved")
	ErrAlreadyBound      = errors.New("work is already bound to a ledger object")
	ErrConcurrentUpdate  = errors.New("record was modified concurrently")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrValidation        = errors.New("validation failed")
)

// IllegalTransitionError reports an event that is not allowed from the
// record's current status
type IllegalTransitionError struct {
	From  models.ProofStatus
	Event ProofEvent
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf(
		"illegal transition: cannot %s a proof in status %s",
		e.Event,
		e.From,
	)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// ValidationError lists the fields that failed validation
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid or missing fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
