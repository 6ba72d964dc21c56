package notifications

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"gather/internal/core"
	"gather/internal/types"
)

// cronSecretHeader carries the shared secret the external scheduler presents
// when one is configured.
const cronSecretHeader = "x-cron-secret"

// runResponse is the worker endpoint's success body.
type runResponse struct {
	OK        bool `json:"ok"`
	Claimed   int  `json:"claimed"`
	Processed int  `json:"processed"`
}

// runErrorResponse is the worker endpoint's failure body.
type runErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Handler exposes the worker over HTTP for the external scheduler.
type Handler struct {
	worker     *Worker
	cronSecret types.SecretString
	logger     *slog.Logger
}

// NewHandler creates a Handler. An empty cronSecret disables the header
// check entirely.
func NewHandler(worker *Worker, cronSecret types.SecretString, logger *slog.Logger) *Handler {
	return &Handler{worker: worker, cronSecret: cronSecret, logger: logger}
}

// Run handles POST /jobs/notifications/run. When a cron secret is
// configured, the caller must present it or receive 401. A completed run
// always answers 200, even with zero claimed jobs; only a failed claim
// produces a server error.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "worker invocation rejected: bad cron secret",
			"remote_addr", r.RemoteAddr,
		)
		core.JSON(w, r, http.StatusUnauthorized, runErrorResponse{Error: "unauthorized"})
		return
	}

	result, err := h.worker.ProcessBatch(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus()
		}
		core.JSON(w, r, status, runErrorResponse{Error: errText(err)})
		return
	}

	core.JSON(w, r, http.StatusOK, runResponse{
		OK:        true,
		Claimed:   result.Claimed,
		Processed: result.Processed,
	})
}

// authorized checks the cron secret header in constant time. No configured
// secret means open access; deployments are expected to set one outside
// local development.
func (h *Handler) authorized(r *http.Request) bool {
	secret := h.cronSecret.Unmask()
	if secret == "" {
		return true
	}
	presented := r.Header.Get(cronSecretHeader)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
