package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/espnow-hub/espnow-hub-pro/internal/storage"
	"github.com/espnow-hub/espnow-hub-pro/pkg/espnow"
)

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Username != s.config.API.AdminUser {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, s.config.API.AdminPasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, err := s.auth.GenerateToken(req.Username, true)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// ========== Device handlers ==========

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	devices, total, err := s.store.ListDevices(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"result": devices,
		"total":  total,
	})
}

// HandleGetDevice gets a device by hardware address
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	addr, err := espnow.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}

	device, err := s.store.GetDevice(r.Context(), addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates device metadata
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	addr, err := espnow.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required,min=3"`
		Description string `json:"description"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.store.GetDevice(r.Context(), addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	device.Name = req.Name
	device.Description = req.Description

	if err := s.store.UpdateDevice(r.Context(), device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("addr", addr.String()).Msg("设备信息已更新")
	s.respondJSON(w, http.StatusOK, device)
}

// ========== Reading handlers ==========

// HandleListReadings lists readings for a device
func (s *RESTServer) HandleListReadings(w http.ResponseWriter, r *http.Request) {
	addr, err := espnow.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	readings, total, err := s.store.ListReadings(r.Context(), addr, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"result": readings,
		"total":  total,
	})
}

// HandleLatestReading returns the most recent reading for a device
func (s *RESTServer) HandleLatestReading(w http.ResponseWriter, r *http.Request) {
	addr, err := espnow.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}

	reading, err := s.store.LatestReading(r.Context(), addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no readings for device")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, reading)
}

// ========== Misc handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Soil Sensor Collector",
		"version": "1.0.0",
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
