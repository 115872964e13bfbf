package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"dialer-platform/internal/lifecycle"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallStatusForm captures the subset of provider status-callback fields we
// care about. Providers send application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only. Lifecycle decisions are not
// made here.

type CallStatusForm struct {
	CallSid    string
	CallStatus string
	Timestamp  string
	ErrorCode  string
}

func ParseCallStatus(r *http.Request) (CallStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusForm{}, err
	}
	f := CallStatusForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
		Timestamp:  strings.TrimSpace(r.PostFormValue("Timestamp")),
		ErrorCode:  strings.TrimSpace(r.PostFormValue("ErrorCode")),
	}
	if f.CallSid == "" {
		return CallStatusForm{}, errors.New("telephony: CallSid missing")
	}
	return f, nil
}

// ToProviderEvent maps the provider's status vocabulary onto lifecycle
// events. Statuses outside the mapping (queued, initiated, ringing) return
// ok=false and are acknowledged without action.
func (f CallStatusForm) ToProviderEvent(now time.Time) (lifecycle.ProviderEvent, bool) {
	at := now
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			at = t
		}
	}

	ev := lifecycle.ProviderEvent{ProviderCallID: f.CallSid, At: at}
	switch f.CallStatus {
	case "in-progress", "answered":
		ev.Type = lifecycle.ProviderEventAnswered
	case "completed":
		ev.Type = lifecycle.ProviderEventCompleted
	case "busy", "no-answer", "failed", "canceled":
		ev.Type = lifecycle.ProviderEventFailed
		ev.Reason = f.CallStatus
		if f.ErrorCode != "" {
			ev.Reason = f.CallStatus + ":" + f.ErrorCode
		}
	default:
		return lifecycle.ProviderEvent{}, false
	}
	return ev, true
}

// EventApplier is the slice of the lifecycle advancer the webhook needs.
type EventApplier interface {
	ApplyEvent(ctx context.Context, ev lifecycle.ProviderEvent) error
}

// CallStatusHandler converts provider status callbacks to lifecycle events.
//
// Unknown provider call ids return 200: callbacks can outlive their call
// record (retention, replays) and the provider must not retry those forever.

type CallStatusHandler struct {
	Applier EventApplier
	Now     func() time.Time
}

func (h CallStatusHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Applier == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle applier not configured"})
		return
	}

	form, err := ParseCallStatus(c.Request)
	if err != nil {
		log.Warn("call status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev, ok := form.ToProviderEvent(h.Now())
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	if err := h.Applier.ApplyEvent(c.Request.Context(), ev); err != nil {
		log.Warn("call status event dropped", "provider_call_id", form.CallSid, "status", form.CallStatus, "err", err)
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusOK)
}
