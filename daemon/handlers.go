package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/protocol"
	"github.com/lumie-health/ringlink/ring"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type StateResponse struct {
	State    string `json:"state"`
	Scanning bool   `json:"scanning"`
}

// PairRequest is the body of POST /pair.
type PairRequest struct {
	DeviceID string `json:"device_id"`
	Sex      string `json:"sex"`
	Age      int    `json:"age"`
	HeightCm int    `json:"height_cm"`
	WeightKg int    `json:"weight_kg"`
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("daemon", "failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	reason := ring.FailureReason(err)
	status := http.StatusInternalServerError
	switch reason {
	case ring.ReasonBluetoothUnavailable:
		status = http.StatusServiceUnavailable
	case ring.ReasonUnreachable:
		status = http.StatusBadGateway
	case ring.ReasonWrongDevice:
		status = http.StatusUnprocessableEntity
	case ring.ReasonInvalidProfile:
		status = http.StatusBadRequest
	case ring.ReasonBusy:
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Reason: reason})
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	// The session outlives the request.
	events, err := s.scanner.Scan(context.Background())
	if err != nil {
		writeError(w, err)
		return
	}
	go s.forward(events)
	writeJSON(w, http.StatusAccepted, StateResponse{State: s.client.State().String(), Scanning: true})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	s.scanner.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	sex, ok := protocol.ParseSex(req.Sex)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "sex must be female or male", Reason: ring.ReasonInvalidProfile})
		return
	}
	p, ok := s.lookup(req.DeviceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "device not discovered: " + req.DeviceID})
		return
	}

	// Pairing stops any scan in progress so the radio is free.
	s.scanner.Stop()

	profile := protocol.UserProfile{Sex: sex, Age: req.Age, HeightCm: req.HeightCm, WeightKg: req.WeightKg}
	info, err := s.client.ConnectAndPair(context.Background(), p, profile)
	if err != nil {
		if !errors.Is(err, ring.ErrBusy) {
			s.hub.PairFailed(p.ID, err)
		}
		writeError(w, err)
		return
	}
	s.hub.Paired(info)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Disconnect(); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		State:    s.client.State().String(),
		Scanning: s.scanner.Scanning(),
	})
}
