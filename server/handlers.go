package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
)

// Status is a contribution together with its persisted and installed state.
type Status struct {
	contribution.Contribution
	Persisted bool `json:"persisted"`
	Installed bool `json:"installed"`
}

// InstallResult is returned by the install and uninstall endpoints.
type InstallResult struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// ReplayResult is returned by /start and /stop.
type ReplayResult struct {
	*coordinator.Report
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	list, err := s.coordinator.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	statuses := make([]Status, len(list))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(StatusConcurrency)
	for i, contrib := range list {
		statuses[i] = Status{Contribution: *contrib, Persisted: true}
		g.Go(func() error {
			installed, err := s.coordinator.IsInstalled(ctx, contrib)
			if err != nil {
				return err
			}
			statuses[i].Installed = installed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	contrib, ok := s.lookup(w, r)
	if !ok {
		return
	}
	installed, err := s.coordinator.IsInstalled(r.Context(), contrib)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Status{Contribution: *contrib, Persisted: true, Installed: installed})
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	contrib, err := decodeContribution(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	add := s.coordinator.AddContribution
	if install, _ := strconv.ParseBool(r.URL.Query().Get("install")); install {
		add = s.coordinator.AddAndInstallContribution
	}
	stored, ok, err := add(r.Context(), contrib)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: fmt.Sprintf("contribution %q already exists", contrib.Name)})
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	contrib, err := decodeContribution(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	switch contrib.Name {
	case "":
		contrib.Name = name
	case name:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("contribution name %q does not match %q", contrib.Name, name)})
		return
	}

	updated, ok, err := s.coordinator.UpdateContribution(r.Context(), contrib)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeNotFound(w, name)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	contrib, ok := s.lookup(w, r)
	if !ok {
		return
	}

	remove := s.coordinator.RemoveContribution
	if uninstall, _ := strconv.ParseBool(r.URL.Query().Get("uninstall")); uninstall {
		remove = s.coordinator.RemoveAndUninstallContribution
	}
	removed, err := remove(r.Context(), contrib)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !removed {
		writeNotFound(w, contrib.Name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	contrib, ok := s.lookup(w, r)
	if !ok {
		return
	}
	installed, err := s.coordinator.InstallContribution(r.Context(), contrib)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !installed {
		status = http.StatusConflict
	}
	writeJSON(w, status, InstallResult{Name: contrib.Name, Installed: installed})
}

// uninstall does not require the contribution to be persisted, a removed record
// may still have a live deployment.
func (s *Server) uninstall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := contribution.ValidateName(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	contrib, ok, err := s.coordinator.Get(r.Context(), name)
	if err != nil && !errors.Is(err, coordinator.ErrNotInitialized) {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		contrib = contribution.New(name, nil)
	}
	if _, err := s.coordinator.UninstallContribution(r.Context(), contrib); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InstallResult{Name: name, Installed: false})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	report, err := s.coordinator.Start(r.Context())
	s.writeReport(w, r, report, err)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	report, err := s.coordinator.Stop(r.Context())
	s.writeReport(w, r, report, err)
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, report *coordinator.Report, err error) {
	if report == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "replaying contributions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ReplayResult{Report: report, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ReplayResult{Report: report})
}

// lookup loads the contribution named in the path. It writes the response and
// returns false when it is absent or cannot be read.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*contribution.Contribution, bool) {
	name := chi.URLParam(r, "name")
	contrib, ok, err := s.coordinator.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if !ok {
		writeNotFound(w, name)
		return nil, false
	}
	return contrib, true
}

func decodeContribution(w http.ResponseWriter, r *http.Request) (*contribution.Contribution, error) {
	var contrib contribution.Contribution
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&contrib); err != nil {
		return nil, &badRequestError{err: fmt.Errorf("decoding contribution failed: %w", err)}
	}
	return &contrib, nil
}

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var badRequest *badRequestError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, contribution.ErrInvalidName), errors.As(err, &badRequest):
		status = http.StatusBadRequest
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeNotFound(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("contribution %q not found", name)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
