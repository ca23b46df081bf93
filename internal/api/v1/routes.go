// Package v1 provides the REST handlers for inspecting and driving the sync engine.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/fieldsync/internal/api/common"
	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/session"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
	"github.com/stacklok/fieldsync/internal/sync/scheduler"
)

// maxRequestBody bounds request bodies accepted by the API
const maxRequestBody = 64 << 10

// AuditLog is the read side of the sync audit log
type AuditLog interface {
	Query(ctx context.Context, filter auditlog.Filter) ([]auditlog.Entry, error)
	Stats(ctx context.Context) (auditlog.Stats, error)
	Clear(ctx context.Context) error
}

// AutoSync is the configuration surface of the automatic scheduler
type AutoSync interface {
	State() scheduler.State
	Syncing() bool
	SetFrequency(ctx context.Context, freq scheduler.Frequency) error
	Disable(ctx context.Context) error
}

// Syncer runs manual passes. Both calls return scheduler.ErrBusy while another
// pass, manual or automatic, is running.
type Syncer interface {
	SyncNow(ctx context.Context, principalID string) (*pkgsync.Summary, error)
	SyncTypeNow(ctx context.Context, recordType records.Type, principalID string) (pkgsync.Result, error)
}

// Notifier emits an event to its subscribers
type Notifier interface {
	Emit()
}

// Dependencies are the collaborators the routes act on
type Dependencies struct {
	Syncer        Syncer
	AuditLog      AuditLog
	AutoSync      AutoSync
	Sessions      session.Provider
	EligibleRoles []string
	Foreground    Notifier
}

// Routes holds the handlers of the v1 API
type Routes struct {
	deps Dependencies
}

// Router creates the v1 router
func Router(deps Dependencies) http.Handler {
	routes := &Routes{deps: deps}

	r := chi.NewRouter()
	r.Route("/sync", func(r chi.Router) {
		r.Post("/", routes.triggerSync)
		r.Get("/log", routes.listSyncLog)
		r.Delete("/log", routes.clearSyncLog)
		r.Get("/stats", routes.getSyncStats)
		r.Get("/config", routes.getAutoSyncConfig)
		r.Put("/config", routes.updateAutoSyncConfig)
	})
	r.Post("/lifecycle/foreground", routes.signalForeground)

	return r
}

// triggerSync handles POST /api/v1/sync[?type=<record type>]
func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	typeParam, err := common.QueryParam(r, "type")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var recordType records.Type
	if typeParam != "" {
		if recordType, err = records.ParseType(typeParam); err != nil {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	principal, err := rr.deps.Sessions.Current(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			common.WriteErrorResponse(w, "No active session", http.StatusUnauthorized)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to resolve session", "error", err)
		common.WriteErrorResponse(w, "Failed to resolve session", http.StatusInternalServerError)
		return
	}
	if !principal.CanSync(rr.deps.EligibleRoles) {
		common.WriteErrorResponse(w, "Role is not permitted to sync", http.StatusForbidden)
		return
	}

	if recordType != "" {
		result, err := rr.deps.Syncer.SyncTypeNow(r.Context(), recordType, principal.ID)
		if err != nil {
			writeSyncError(w, r, err)
			return
		}
		common.WriteJSONResponse(w, newSyncResultResponse(result), http.StatusOK)
		return
	}

	summary, err := rr.deps.Syncer.SyncNow(r.Context(), principal.ID)
	if err != nil {
		writeSyncError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, newSyncSummaryResponse(summary), http.StatusOK)
}

func writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scheduler.ErrBusy) {
		common.WriteErrorResponse(w, "A sync is already in progress", http.StatusConflict)
		return
	}
	slog.ErrorContext(r.Context(), "Failed to run sync", "error", err)
	common.WriteErrorResponse(w, "Failed to run sync", http.StatusInternalServerError)
}

// listSyncLog handles GET /api/v1/sync/log
func (rr *Routes) listSyncLog(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := rr.deps.AuditLog.Query(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to read sync log", "error", err)
		common.WriteErrorResponse(w, "Failed to read sync log", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []auditlog.Entry{}
	}

	common.WriteJSONResponse(w, SyncLogResponse{Entries: entries, Count: len(entries)}, http.StatusOK)
}

// clearSyncLog handles DELETE /api/v1/sync/log
func (rr *Routes) clearSyncLog(w http.ResponseWriter, r *http.Request) {
	if err := rr.deps.AuditLog.Clear(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Failed to clear sync log", "error", err)
		common.WriteErrorResponse(w, "Failed to clear sync log", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSyncStats handles GET /api/v1/sync/stats
func (rr *Routes) getSyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rr.deps.AuditLog.Stats(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute sync stats", "error", err)
		common.WriteErrorResponse(w, "Failed to compute sync stats", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}

// getAutoSyncConfig handles GET /api/v1/sync/config
func (rr *Routes) getAutoSyncConfig(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w,
		newAutoSyncConfigResponse(rr.deps.AutoSync.State(), rr.deps.AutoSync.Syncing()),
		http.StatusOK)
}

// updateAutoSyncConfig handles PUT /api/v1/sync/config
func (rr *Routes) updateAutoSyncConfig(w http.ResponseWriter, r *http.Request) {
	var req AutoSyncConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Enabled {
		freq, err := scheduler.ParseFrequency(req.Frequency)
		if err != nil {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := rr.deps.AutoSync.SetFrequency(r.Context(), freq); err != nil {
			slog.ErrorContext(r.Context(), "Failed to enable automatic sync", "error", err)
			common.WriteErrorResponse(w, "Failed to update configuration", http.StatusInternalServerError)
			return
		}
	} else if err := rr.deps.AutoSync.Disable(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Failed to disable automatic sync", "error", err)
		common.WriteErrorResponse(w, "Failed to update configuration", http.StatusInternalServerError)
		return
	}

	rr.getAutoSyncConfig(w, r)
}

// signalForeground handles POST /api/v1/lifecycle/foreground
func (rr *Routes) signalForeground(w http.ResponseWriter, _ *http.Request) {
	if rr.deps.Foreground != nil {
		rr.deps.Foreground.Emit()
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseFilter(r *http.Request) (auditlog.Filter, error) {
	var filter auditlog.Filter

	typeParam, err := common.QueryParam(r, "type")
	if err != nil {
		return filter, err
	}
	if typeParam != "" {
		if filter.RecordType, err = records.ParseType(typeParam); err != nil {
			return filter, err
		}
	}

	statusParam, err := common.QueryParam(r, "status")
	if err != nil {
		return filter, err
	}
	if statusParam != "" {
		status, ok := auditlog.ParseStatus(statusParam)
		if !ok {
			return filter, errors.New("status must be one of success, failed, partial")
		}
		filter.Status = status
	}

	from, err := common.TimeQueryParam(r, "from")
	if err != nil {
		return filter, err
	}
	to, err := common.TimeQueryParam(r, "to")
	if err != nil {
		return filter, err
	}
	if from != nil {
		filter.From = *from
	}
	if to != nil {
		filter.To = *to
	}
	if from != nil && to != nil && to.Before(*from) {
		return filter, errors.New("to must not be before from")
	}
	return filter, nil
}
