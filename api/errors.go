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

package api

import (
	"errors"
	"net/http"

	"github.com/legiau879778/suimusic-sub000/approval"
	"github.com/legiau879778/suimusic-sub000/binder"
	"github.com/legiau879778/suimusic-sub000/database"
	"github.com/legiau879778/suimusic-sub000/pipeline"
)

const (
	CodeValidation         = "validation_error"
	CodeSignature          = "signature_error"
	CodeNotFound           = "not_found"
	CodeAlreadyDecided     = "already_decided"
	CodeDuplicateApproval  = "duplicate_approval"
	CodeReviewerNotAllowed = "reviewer_not_allowed"
	CodeIllegalTransition  = "illegal_transition"
	CodeNotApproved        = "not_approved"
	CodeAlreadyMinted      = "already_minted"
	CodeMintInProgress     = "mint_in_progress"
	CodeConcurrentUpdate   = "concurrent_update"
	CodeDuplicateHash      = "duplicate_hash"
	CodeConfigMissing      = "config_missing"
	CodeObjectIDNotFound   = "object_id_not_found"
	CodeTransactionFailed  = "transaction_failed"
	CodeRateLimited        = "rate_limited"
	CodeBadRequest         = "bad_request"
	CodeTooLarge           = "payload_too_large"
	CodeInternal           = "internal_error"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{database.ErrValidation, http.StatusBadRequest, CodeValidation},
	{approval.ErrReviewerRequired, http.StatusBadRequest, CodeValidation},
	{approval.ErrReasonRequired, http.StatusBadRequest, CodeValidation},
	{approval.ErrInvalidWeight, http.StatusBadRequest, CodeValidation},
	{pipeline.ErrSignature, http.StatusUnauthorized, CodeSignature},
	{approval.ErrInvalidSignature, http.StatusUnauthorized, CodeSignature},
	{approval.ErrReviewerNotAllowed, http.StatusForbidden, CodeReviewerNotAllowed},
	{database.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{approval.ErrAlreadyDecided, http.StatusConflict, CodeAlreadyDecided},
	{approval.ErrDuplicateApproval, http.StatusConflict, CodeDuplicateApproval},
	{database.ErrIllegalTransition, http.StatusConflict, CodeIllegalTransition},
	{database.ErrNotApproved, http.StatusConflict, CodeNotApproved},
	{pipeline.ErrAlreadyMinted, http.StatusConflict, CodeAlreadyMinted},
	{database.ErrAlreadyBound, http.StatusConflict, CodeAlreadyMinted},
	{pipeline.ErrMintInProgress, http.StatusConflict, CodeMintInProgress},
	{database.ErrConcurrentUpdate, http.StatusConflict, CodeConcurrentUpdate},
	{binder.ErrDuplicateHash, http.StatusConflict, CodeDuplicateHash},
	{binder.ErrConfigMissing, http.StatusServiceUnavailable, CodeConfigMissing},
	{binder.ErrObjectIDNotFound, http.StatusBadGateway, CodeObjectIDNotFound},
	{binder.ErrTransactionFailed, http.StatusBadGateway, CodeTransactionFailed},
}

// ErrorResponseFor maps err to a status code and response body. Unknown errors
// are reported without their message
func ErrorResponseFor(err error) (int, ErrorResponse) {
	for _, m := range errorCodes {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := ErrorResponse{Error: m.code, Message: err.Error()}
		var verr *database.ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Fields
		}
		var notFound *binder.ObjectIDNotFoundError
		if errors.As(err, &notFound) {
			resp.TxDigest = notFound.Digest
		}
		var failed *binder.TransactionFailedError
		if errors.As(err, &failed) {
			resp.TxDigest = failed.Digest
		}
		return m.status, resp
	}
	return http.StatusInternalServerError, ErrorResponse{
		Error:   CodeInternal,
		Message: "internal server error",
	}
}
