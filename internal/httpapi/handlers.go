package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/channel"
	"github.com/danielpatrickdp/nudge-controller/internal/dispatch"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	deps Deps
}

// #region health

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.deps.Remote != nil {
		body["remote_reachable"] = h.deps.Remote.Reachable()
	}
	RespondOK(c, body)
}

// #endregion health

// #region events

type eventRequest struct {
	Recipient string    `json:"recipient"`
	Features  []float64 `json:"features"`
}

func (h *handlers) postEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		RespondError(c, http.StatusBadRequest, "missing_recipient", errors.New("recipient is required"))
		return
	}
	if len(req.Features) != h.deps.EventDim {
		RespondError(c, http.StatusBadRequest, "bad_dimension",
			fmt.Errorf("expected %d features, got %d", h.deps.EventDim, len(req.Features)))
		return
	}

	err := h.deps.Dispatcher.Dispatch(dispatch.Event{Recipient: req.Recipient, Features: req.Features})
	if errors.Is(err, dispatch.ErrClosed) {
		RespondError(c, http.StatusServiceUnavailable, "shutting_down", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "dispatch_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// #endregion events

// #region session

func (h *handlers) getSession(c *gin.Context) {
	RespondOK(c, h.deps.Session.Snapshot())
}

type preferencesRequest struct {
	MaxDailyDelta int `json:"max_daily_delta"` // -1, 0 or +1 messages per day
	CooldownSteps int `json:"cooldown_steps"`  // multiples of five minutes
}

func (h *handlers) postPreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if req.MaxDailyDelta != 0 {
		h.deps.Session.AdjustMaxDaily(req.MaxDailyDelta)
	}
	if req.CooldownSteps != 0 {
		h.deps.Session.AdjustCooldown(time.Duration(req.CooldownSteps) * session.CooldownStep)
	}
	RespondOK(c, h.deps.Session.Limits())
}

func (h *handlers) takeHistory(c *gin.Context) {
	RespondOK(c, gin.H{"history": h.deps.Session.TakeCategoryHistory()})
}

// #endregion session

// #region surveys

func (h *handlers) listSurveys(c *gin.Context) {
	if h.deps.Surveys == nil {
		RespondError(c, http.StatusNotFound, "no_survey_backend", errors.New("survey backend not configured"))
		return
	}
	recipient := c.Query("recipient")
	if recipient == "" {
		RespondError(c, http.StatusBadRequest, "missing_recipient", errors.New("recipient query parameter is required"))
		return
	}
	reqs, err := h.deps.Surveys.Pending(c.Request.Context(), recipient)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "pending_failed", err)
		return
	}
	if reqs == nil {
		reqs = []channel.Request{}
	}
	RespondOK(c, gin.H{"requests": reqs})
}

func (h *handlers) answerSurvey(c *gin.Context) {
	if h.deps.Surveys == nil {
		RespondError(c, http.StatusNotFound, "no_survey_backend", errors.New("survey backend not configured"))
		return
	}
	var ans channel.Answer
	if err := c.ShouldBindJSON(&ans); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	err := h.deps.Surveys.Respond(c.Request.Context(), c.Param("id"), ans)
	switch {
	case errors.Is(err, channel.ErrUnknownRequest):
		RespondError(c, http.StatusNotFound, "unknown_request", err)
	case errors.Is(err, channel.ErrAlreadyAnswered):
		RespondError(c, http.StatusConflict, "already_answered", err)
	case err != nil:
		RespondError(c, http.StatusInternalServerError, "respond_failed", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

// #endregion surveys
