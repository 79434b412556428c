package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, http.StatusOK, true, map[string]interface{}{
		"status":         "healthy",
		"retention_days": s.manager.RetentionDays(),
		"collections":    s.manager.Catalog().Names(),
	})
}

// handleCreateSnapshot builds a snapshot and returns it as a download.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	scope := query.Get("scope")
	reason := query.Get("reason")
	if reason == "" {
		reason = backup.ReasonManual
	}

	var buf bytes.Buffer
	name, err := s.manager.DownloadSnapshot(r.Context(), scope, reason, &buf)
	if err != nil {
		s.logger.Error("Snapshot request failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
		s.sendError(w, errorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("Failed to send snapshot", zap.Error(err))
	}
}

// handleValidateSnapshot checks an uploaded snapshot without restoring it.
func (s *Server) handleValidateSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.readBody(w, r)
	if err != nil {
		s.sendError(w, errorStatus(err), err.Error())
		return
	}

	snap, err := backup.ParseSnapshot(data)
	if err != nil {
		s.sendError(w, errorStatus(err), err.Error())
		return
	}

	report := s.manager.ValidateSnapshot(snap)
	s.sendData(w, http.StatusOK, report.Valid, report)
}

// handleRestoreSnapshot restores an uploaded snapshot. The body is the
// snapshot document; options come from the query string.
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	opts, err := restoreOptions(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.readBody(w, r)
	if err != nil {
		s.sendError(w, errorStatus(err), err.Error())
		return
	}

	result, err := s.manager.RestoreFromFile(r.Context(), data, opts)
	if err != nil {
		s.sendJSON(w, errorStatus(err), Response{
			Success: false,
			Data:    result,
			Error:   err.Error(),
			Time:    time.Now(),
		})
		return
	}

	s.sendData(w, http.StatusOK, result.Success, result)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.ListHistory(r.Context())
	if err != nil {
		s.logger.Error("Failed to list history", zap.Error(err))
		s.sendError(w, errorStatus(err), err.Error())
		return
	}
	s.sendData(w, http.StatusOK, true, entries)
}

// handleCleanupHistory prunes history older than max_age_days, defaulting
// to the configured retention.
func (s *Server) handleCleanupHistory(w http.ResponseWriter, r *http.Request) {
	days := s.manager.RetentionDays()
	if raw := r.URL.Query().Get("max_age_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "max_age_days must be a non-negative integer")
			return
		}
		days = n
	}

	removed, err := s.manager.CleanupHistory(r.Context(), days)
	if err != nil {
		s.logger.Error("History cleanup failed", zap.Error(err))
		s.sendError(w, errorStatus(err), err.Error())
		return
	}
	s.sendData(w, http.StatusOK, true, map[string]int{
		"removed":      removed,
		"max_age_days": days,
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if s.config.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	data, err := storage.ReadArtifact(body, s.config.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, storage.ErrArtifactTooLarge):
			return nil, err
		case errors.Is(err, storage.ErrCorruptArtifact):
			return nil, &backup.ParseError{Err: err}
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

// restoreOptions reads dry_run, validate, safety, scope and policy.
// validate and safety default to true.
func restoreOptions(r *http.Request) (backup.RestoreOptions, error) {
	query := r.URL.Query()
	opts := backup.RestoreOptions{
		ValidateIntegrity:       true,
		CreateSafetyBackupFirst: true,
		Scope:                   query.Get("scope"),
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"dry_run", &opts.DryRun},
		{"validate", &opts.ValidateIntegrity},
		{"safety", &opts.CreateSafetyBackupFirst},
	}
	for _, f := range flags {
		raw := query.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %q", f.name, raw)
		}
		*f.dst = v
	}

	policy, err := backup.ParseRestorePolicy(query.Get("policy"))
	if err != nil {
		return opts, err
	}
	if query.Get("policy") != "" {
		opts.Policy = policy
	}
	return opts, nil
}
