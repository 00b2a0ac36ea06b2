// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

// Package api exposes the station operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HITEYY/obsidian-station/core/station"
	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

var errBadAddress = errors.New("didAddress is not a hex address")

// Operations is the part of *station.Station served over HTTP.
type Operations interface {
	AddAttribute(ctx context.Context, p station.AddAttributeParams) (*types.TransactionOutcome, error)
	StoreData(ctx context.Context, p station.StoreDataParams) (*types.TransactionOutcome, error)
	DeploySmartAccount(ctx context.Context) (common.Address, *types.TransactionOutcome, error)
}

type server struct {
	ops Operations
}

type attributeRequest struct {
	DIDAddress string `json:"didAddress"`
	Email      string `json:"email"`
	Tag        string `json:"tag"`
	DIDHash    string `json:"didHash,omitempty"`
}

type itemRequest struct {
	Email string   `json:"email"`
	Tag   string   `json:"tag"`
	Tags  []string `json:"tags"`
}

type hashResponse struct {
	Hash string `json:"hash"`
}

type didResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler routes the station endpoints. Metrics are served from
// gatherer when it is non-nil.
func NewHandler(ops Operations, gatherer prometheus.Gatherer) http.Handler {
	s := &server{ops: ops}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/add-attribute", s.addAttribute)
	r.Post("/create-did", s.createDID)
	r.Post("/add-item", s.addItem)
	r.Post("/deploy-smart-account", s.deploySmartAccount)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("Served request", "id", middleware.GetReqID(r.Context()), "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "elapsed", time.Since(start))
	})
}

func (s *server) addAttribute(w http.ResponseWriter, r *http.Request) {
	params, err := decodeAttribute(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.ops.AddAttribute(r.Context(), params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: outcome.TxHash.Hex()})
}

// createDID reports every failure as 400 with a success flag.
func (s *server) createDID(w http.ResponseWriter, r *http.Request) {
	params, err := decodeAttribute(w, r)
	if err == nil {
		var outcome *types.TransactionOutcome
		if outcome, err = s.ops.AddAttribute(r.Context(), params); err == nil {
			writeJSON(w, http.StatusOK, didResponse{Success: true, TxHash: outcome.TxHash.Hex()})
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, didResponse{Error: err.Error()})
}

func (s *server) addItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.ops.StoreData(r.Context(), station.StoreDataParams{
		Email:     req.Email,
		Tag:       req.Tag,
		Tags:      req.Tags,
		CustomTag: req.Tag,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: outcome.TxHash.Hex()})
}

func (s *server) deploySmartAccount(w http.ResponseWriter, r *http.Request) {
	addr, _, err := s.ops.DeploySmartAccount(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: addr.Hex()})
}

func decodeAttribute(w http.ResponseWriter, r *http.Request) (station.AddAttributeParams, error) {
	var req attributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return station.AddAttributeParams{}, err
	}
	if !common.IsHexAddress(req.DIDAddress) {
		return station.AddAttributeParams{}, errBadAddress
	}
	return station.AddAttributeParams{
		DIDAddress:   req.DIDAddress,
		Email:        req.Email,
		Tag:          req.Tag,
		DocumentHash: req.DIDHash,
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

// statusFor maps the station error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, station.ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, station.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, station.ErrEncoding):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Warn("Request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}
