package scheduler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gather/internal/core"
	"gather/internal/types"
)

// adminKeyHeader is the fallback credential header for manual invocations.
const adminKeyHeader = "x-admin-key"

// unlockRunResponse is the unlock endpoint's success body. Every candidate's
// disposition is included so the scheduler's own logs double as an audit
// trail.
type unlockRunResponse struct {
	OK        bool              `json:"ok"`
	Processed int               `json:"processed"`
	Unlocked  int               `json:"unlocked"`
	Skipped   int               `json:"skipped"`
	Errors    int               `json:"errors"`
	Results   []CandidateResult `json:"results"`
}

// Handler exposes the unlock service over HTTP for the external scheduler.
type Handler struct {
	service        *UnlockService
	schedulerToken types.SecretString
	adminAPIKey    types.SecretString
	logger         *slog.Logger
	nowFn          func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(
	service *UnlockService,
	schedulerToken types.SecretString,
	adminAPIKey types.SecretString,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:        service,
		schedulerToken: schedulerToken,
		adminAPIKey:    adminAPIKey,
		logger:         logger,
		nowFn:          time.Now,
	}
}

// Run handles POST /jobs/location-unlock/run. The caller must present the
// scheduler bearer token or the admin key; everyone else gets 403.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "unlock invocation rejected: bad credentials",
			"remote_addr", r.RemoteAddr,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionScheduler,
			"forbidden",
			nil,
		))
		return
	}

	result, err := h.service.Run(r.Context(), h.nowFn())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := unlockRunResponse{
		OK:        true,
		Processed: result.Processed,
		Unlocked:  result.Unlocked,
		Skipped:   result.Skipped,
		Errors:    result.Errors,
		Results:   result.Results,
	}
	if resp.Results == nil {
		resp.Results = []CandidateResult{}
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// authorized accepts either "Authorization: Bearer <scheduler token>" or the
// admin key header, both compared in constant time. With neither credential
// configured, every call is rejected; the unlock endpoint never runs open.
func (h *Handler) authorized(r *http.Request) bool {
	if token := h.schedulerToken.Unmask(); token != "" {
		auth := r.Header.Get("Authorization")
		if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
			if subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) == 1 {
				return true
			}
		}
	}

	if key := h.adminAPIKey.Unmask(); key != "" {
		presented := r.Header.Get(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			return true
		}
	}

	return false
}
