package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/report"
	"github.com/your-org/presence/pkg/dto"
)

// respondError writes err as {"error", "code"} using the AppError status,
// or 500 for anything else.
func respondError(c *gin.Context, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		if ae.HTTPStatus >= http.StatusInternalServerError {
			slog.Error("request failed", "path", c.FullPath(), "code", ae.Code, "error", err)
		}
		c.JSON(ae.HTTPStatus, gin.H{"error": ae.Message, "code": ae.Code})
		return
	}
	slog.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": apperror.ErrInternal.Message,
		"code":  apperror.CodeInternal,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperror.CodeValidation})
}

func identityParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid identity id")
		return 0, false
	}
	return id, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toIdentityResponse(ident models.Identity) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:        ident.ID,
		Name:      ident.Name,
		Dim:       len(ident.Embedding),
		CreatedAt: formatTime(ident.CreatedAt),
		UpdatedAt: formatTime(ident.UpdatedAt),
	}
}

func toEventResponse(ev models.AttendanceEvent) dto.EventResponse {
	r := dto.EventResponse{
		ID:         ev.ID,
		IdentityID: ev.IdentityID,
		Kind:       string(ev.Kind),
		Timestamp:  formatTime(ev.Timestamp),
		CameraID:   ev.CameraID,
	}
	if ev.SnapshotKey != "" {
		r.SnapshotURL = fmt.Sprintf("/v1/identities/%d/events/%d/snapshot", ev.IdentityID, ev.ID)
	}
	return r
}

func toDailyResponse(r *report.DailyReport) dto.DailyReportResponse {
	resp := dto.DailyReportResponse{
		IdentityID:   r.IdentityID,
		Name:         r.Name,
		Date:         r.Date,
		TotalSeconds: r.TotalSeconds,
		Hours:        r.Hours,
		Minutes:      r.Minutes,
		Formatted:    r.Formatted,
		Intervals:    make([]dto.IntervalResponse, 0, len(r.Intervals)),
	}
	for _, iv := range r.Intervals {
		resp.Intervals = append(resp.Intervals, dto.IntervalResponse{
			Entry:   formatTime(iv.Entry),
			Exit:    formatTime(iv.Exit),
			Seconds: int64(iv.Duration / time.Second),
			Clipped: iv.Clipped,
		})
	}
	if r.OpenSince != nil {
		resp.OpenSince = formatTime(*r.OpenSince)
	}
	return resp
}

func toWeeklyResponse(r *report.WeeklyReport) dto.WeeklyReportResponse {
	resp := dto.WeeklyReportResponse{
		IdentityID:   r.IdentityID,
		Name:         r.Name,
		StartDate:    r.Start,
		EndDate:      r.End,
		TotalSeconds: r.TotalSeconds,
		Formatted:    r.Formatted,
		Days:         make([]dto.DaySummaryResponse, 0, len(r.Days)),
	}
	for _, d := range r.Days {
		resp.Days = append(resp.Days, dto.DaySummaryResponse{
			Date:         d.Date,
			TotalSeconds: d.TotalSeconds,
			Formatted:    d.Formatted,
		})
	}
	return resp
}

func toStatusResponse(st report.Status) dto.StatusResponse {
	resp := dto.StatusResponse{
		IdentityID: st.IdentityID,
		State:      string(st.State),
		Kind:       st.Kind,
	}
	if st.Timestamp != nil {
		resp.Timestamp = formatTime(*st.Timestamp)
	}
	return resp
}
