package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/recorder"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

func (s *Server) submit(w http.ResponseWriter, cmd recorder.Command) {
	if err := s.deps.Recorder.Submit(cmd); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.CommandResponse{Command: string(cmd.Kind), Queued: true})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rotation < 0 || req.Rotation > 3 {
		writeError(w, http.StatusBadRequest, errors.New("rotation must be 0-3"))
		return
	}
	s.submit(w, recorder.Start(recorder.StartParams{
		Token:      req.Token,
		ResultCode: req.ResultCode,
		Rotation:   req.Rotation,
	}))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	kind, ok := recorder.ParseKind(chi.URLParam(r, "command"))
	if !ok || kind == recorder.CmdStart {
		writeError(w, http.StatusNotFound, errors.New("unknown command"))
		return
	}
	switch kind {
	case recorder.CmdPause:
		s.submit(w, recorder.Pause())
	case recorder.CmdResume:
		s.submit(w, recorder.Resume())
	case recorder.CmdStop:
		s.submit(w, recorder.Stop(recorder.ReasonUser))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Recorder.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	token, exp := s.deps.Consents.Issue()
	writeJSON(w, http.StatusCreated, models.ConsentResponse{Token: token, ResultCode: capture.ResultOK, ExpiresAt: exp})
}

func (s *Server) handleRevokeProjection(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Projections.StopActive() {
		writeError(w, http.StatusNotFound, errors.New("no active projection"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle, err := s.deps.Prefs.GetString(ctx, prefs.KeySaveLocationURI)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := models.LocationResponse{Handle: handle, DirectDir: s.deps.DirectDir, Writable: true}
	if handle != "" {
		ok, err := s.deps.Storage.HasWritePermission(ctx, handle)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		resp.Writable = ok
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetLocation stores the scoped save location. An empty handle goes
// back to the direct directory.
func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.LocationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Handle == "" {
		if err := s.deps.Prefs.Delete(ctx, prefs.KeySaveLocationURI); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, models.LocationResponse{DirectDir: s.deps.DirectDir, Writable: true})
		return
	}
	if _, err := storage.ParseHandle(req.Handle); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.deps.Storage.HasWritePermission(ctx, req.Handle)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, failure.New(failure.PermissionDenied, "set location", errors.New("no write grant for "+req.Handle)))
		return
	}
	if err := s.deps.Prefs.PutString(ctx, prefs.KeySaveLocationURI, req.Handle); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, models.LocationResponse{Handle: req.Handle, DirectDir: s.deps.DirectDir, Writable: true})
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.deps.Prefs.ListGrants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		out = append(out, models.Grant{Handle: g.Handle, Write: g.Write, GrantedAt: g.GrantedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req models.GrantRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := storage.ParseHandle(req.Handle); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g := prefs.Grant{Handle: req.Handle, Write: req.Write, GrantedAt: s.now()}
	if err := s.deps.Prefs.PutGrant(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.Grant{Handle: g.Handle, Write: g.Write, GrantedAt: g.GrantedAt})
}

func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, errors.New("handle query parameter is required"))
		return
	}
	if err := s.deps.Prefs.RevokeGrant(r.Context(), handle); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toModel(rec catalog.Record) models.Recording {
	return models.Recording{
		SessionID:   rec.SessionID,
		TargetKind:  string(rec.Kind),
		Location:    rec.Location,
		WorkingPath: rec.WorkingPath,
		Success:     rec.Success,
		Outcome:     string(rec.Outcome),
		Error:       rec.Error,
		SizeBytes:   rec.SizeBytes,
		ElapsedMS:   rec.Elapsed.Milliseconds(),
		FinishedAt:  rec.FinishedAt,
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := s.deps.Catalog.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]models.Recording, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toModel(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLastRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Catalog.Latest(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toModel(rec))
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.deps.System == nil {
		writeJSON(w, http.StatusOK, models.SystemInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.System(r.Context()))
}
