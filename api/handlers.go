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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/legiau879778/suimusic-sub000/approval"
	"github.com/legiau879778/suimusic-sub000/database/models"
	"github.com/legiau879778/suimusic-sub000/pipeline"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// fail writes the mapped response for an operation error
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ErrorResponseFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(
			"request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		s.logger.Debug(
			"request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", resp.Error,
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}

// decode reads a single JSON object, rejecting unknown fields
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("request body must contain a single JSON object")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, err.Error())
			return false
		}
		writeError(
			w,
			http.StatusBadRequest,
			CodeBadRequest,
			fmt.Sprintf("invalid request body: %s", err),
		)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBlobBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	ref, err := s.pipeline.PutBlob(r.Context(), data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, BlobResponse{Ref: ref})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	data, err := s.pipeline.GetBlob(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck
	w.Write(data)
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	var req SubmitProofRequest
	if !s.decode(w, r, &req) {
		return
	}
	proof, err := s.pipeline.SubmitProof(r.Context(), pipeline.Claim{
		AuthorID:  req.AuthorID,
		Wallet:    req.Wallet,
		FileHash:  req.FileHash,
		MetaHash:  req.MetaHash,
		Message:   req.Message,
		Signature: req.AuthorSignature,
		BlobRefs:  req.BlobRefs,
		Metadata:  req.Metadata,
		Title:     req.Title,
		SellType:  req.SellType,
		Royalty:   req.Royalty,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.proofResponse(r, proof))
}

// proofResponse adds the work id when it can be found
func (s *Server) proofResponse(r *http.Request, proof *models.ProofRecord) ProofResponse {
	resp := ProofResponse{ProofRecord: proof}
	work, err := s.pipeline.GetWorkByProof(r.Context(), proof.ID)
	if err != nil {
		s.logger.Warn("failed to look up work for proof", "proof_id", proof.ID, "error", err)
		return resp
	}
	resp.WorkID = work.ID
	return resp
}

func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request) {
	var status *models.ProofStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.ProofStatus(v)
		status = &st
	}
	proofs, err := s.pipeline.ListProofs(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if proofs == nil {
		proofs = []models.ProofRecord{}
	}
	writeJSON(w, http.StatusOK, proofs)
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	proof, err := s.pipeline.GetProof(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.proofResponse(r, proof))
}

func (s *Server) handleMintWork(w http.ResponseWriter, r *http.Request) {
	work, err := s.pipeline.MintWork(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	work, err := s.pipeline.GetWork(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := s.pipeline.ListAudit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if audit == nil {
		audit = []models.ApprovalAudit{}
	}
	writeJSON(w, http.StatusOK, audit)
}

func (s *Server) handleApproveWork(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Weight == 0 {
		req.Weight = 1
	}
	work, err := s.pipeline.ApproveWork(r.Context(), r.PathValue("id"), approval.ApproveInput{
		Reviewer:  req.Reviewer,
		Proof:     req.Proof,
		TxDigest:  req.TxDigest,
		Signature: req.Signature,
		Message:   req.Message,
		Weight:    req.Weight,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleRejectWork(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	work, err := s.pipeline.RejectWork(r.Context(), r.PathValue("id"), approval.RejectInput{
		Reviewer:  req.Reviewer,
		Reason:    req.Reason,
		Proof:     req.Proof,
		Signature: req.Signature,
		Message:   req.Message,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	work, err := s.pipeline.ReconcileOwnership(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleLicenseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.LicenseStats(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
