package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/matcher"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/pkg/dto"
)

const (
	defaultEventLimit   = 100
	defaultMaxClockSkew = 10 * time.Second
)

type Observer interface {
	Observe(ctx context.Context, identityID int64, now time.Time, meta presence.Meta) (presence.Outcome, error)
}

type EventLister interface {
	ListEvents(ctx context.Context, identityID int64, from, to time.Time, limit int) ([]models.AttendanceEvent, error)
}

type AttendancePublisher interface {
	PublishAttendance(ctx context.Context, msg models.AttendanceMessage) error
}

type ReportInvalidator interface {
	Invalidate(ctx context.Context, identityID int64) error
}

// PresenceHandler serves manual observations, ad-hoc matching and the
// event history.
type PresenceHandler struct {
	roster    Roster
	observer  Observer
	events    EventLister
	images    ImageStore
	tolerance float64
	now       func() time.Time

	Publisher   AttendancePublisher
	Invalidator ReportInvalidator

	// MaxClockSkew limits client timestamps ahead of server time.
	// Zero means defaultMaxClockSkew.
	MaxClockSkew time.Duration
}

func NewPresenceHandler(r Roster, observer Observer, events EventLister, images ImageStore, tolerance float64) *PresenceHandler {
	if tolerance == 0 {
		tolerance = matcher.DefaultTolerance
	}
	return &PresenceHandler{
		roster:    r,
		observer:  observer,
		events:    events,
		images:    images,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Observe records a sighting of a known identity. A debounced sighting is
// a 200 with emitted=false.
func (h *PresenceHandler) Observe(c *gin.Context) {
	var req dto.ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IdentityID <= 0 {
		badRequest(c, "identity_id must be positive")
		return
	}
	ident, ok := h.roster.Lookup(req.IdentityID)
	if !ok {
		respondError(c, apperror.NotFound(fmt.Sprintf("identity %d", req.IdentityID)))
		return
	}

	ts := h.now()
	if req.Timestamp != nil {
		// A future event would suppress every later sighting of the identity.
		if limit := ts.Add(h.maxClockSkew()); req.Timestamp.After(limit) {
			respondError(c, apperror.Validation("timestamp %s is ahead of server time %s",
				formatTime(*req.Timestamp), formatTime(ts)))
			return
		}
		ts = *req.Timestamp
	}
	ctx := c.Request.Context()
	out, err := h.observer.Observe(ctx, req.IdentityID, ts, presence.Meta{CameraID: req.CameraID})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ObservationResponse{Emitted: out.Emitted(), State: string(out.State)}
	if out.Emitted() {
		ev := toEventResponse(*out.Event)
		resp.Event = &ev
		h.afterEmit(ctx, *out.Event, ident.Name)
	}
	status := http.StatusOK
	if out.Emitted() {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (h *PresenceHandler) maxClockSkew() time.Duration {
	if h.MaxClockSkew > 0 {
		return h.MaxClockSkew
	}
	return defaultMaxClockSkew
}

func (h *PresenceHandler) afterEmit(ctx context.Context, ev models.AttendanceEvent, name string) {
	if h.Invalidator != nil {
		if err := h.Invalidator.Invalidate(ctx, ev.IdentityID); err != nil {
			slog.Warn("invalidate report cache", "identity_id", ev.IdentityID, "error", err)
		}
	}
	if h.Publisher != nil {
		if err := h.Publisher.PublishAttendance(ctx, models.AttendanceMessage{Event: ev, Name: name}); err != nil {
			slog.Warn("publish attendance", "identity_id", ev.IdentityID, "error", err)
		}
	}
}

// Match compares a probe embedding against the current roster.
func (h *PresenceHandler) Match(c *gin.Context) {
	var req dto.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	tol := h.tolerance
	if req.Tolerance != nil {
		tol = *req.Tolerance
	}

	res, err := matcher.Match(req.Embedding, h.roster.Snapshot(), tol)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.MatchResponse{Matched: res.Matched, IdentityID: res.IdentityID, Name: res.Name, Distance: res.Distance}
	// +Inf has no JSON encoding; an empty roster reports distance -1.
	if math.IsInf(resp.Distance, 1) {
		resp.Distance = -1
	}
	c.JSON(http.StatusOK, resp)
}

// Events lists an identity's events, newest first. from and to are RFC 3339
// and default to the last 24 hours.
func (h *PresenceHandler) Events(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}

	to := h.now()
	from := to.Add(-24 * time.Hour)
	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "invalid from")
			return
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "invalid to")
			return
		}
	}
	if from.After(to) {
		respondError(c, apperror.InvalidRange(from.Format(time.RFC3339), to.Format(time.RFC3339)))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventLimit)))
	if err != nil || limit <= 0 {
		badRequest(c, "invalid limit")
		return
	}

	events, err := h.events.ListEvents(c.Request.Context(), id, from, to, limit)
	if err != nil {
		respondError(c, apperror.Persistence(err, "list events"))
		return
	}
	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: len(resp)})
}

// Snapshot proxies the face crop stored for an event.
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		badRequest(c, "invalid event id")
		return
	}

	data, err := h.images.Get(c.Request.Context(), storage.SnapshotKey(id, eventID))
	if err != nil {
		respondError(c, apperror.NotFound("snapshot"))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}
