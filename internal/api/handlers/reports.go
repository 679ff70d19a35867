package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/presence/internal/report"
)

type ReportService interface {
	GenerateDailyReport(ctx context.Context, identityID int64, day time.Time) (*report.DailyReport, error)
	GenerateWeeklyReport(ctx context.Context, identityID int64, start, end time.Time) (*report.WeeklyReport, error)
	GetCurrentStatus(ctx context.Context, identityID int64) (report.Status, error)
	Today() time.Time
}

type ReportHandler struct {
	reports ReportService
}

func NewReportHandler(reports ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) Status(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	st, err := h.reports.GetCurrentStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(st))
}

// Daily serves ?date=YYYY-MM-DD, defaulting to today.
func (h *ReportHandler) Daily(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	day, err := h.dateQuery(c, "date")
	if err != nil {
		respondError(c, err)
		return
	}

	r, err := h.reports.GenerateDailyReport(c.Request.Context(), id, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDailyResponse(r))
}

// Weekly serves ?start_date&end_date, defaulting to the seven days ending today.
func (h *ReportHandler) Weekly(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	end, err := h.dateQuery(c, "end_date")
	if err != nil {
		respondError(c, err)
		return
	}
	start := end.AddDate(0, 0, -6)
	if c.Query("start_date") != "" {
		if start, err = h.dateQuery(c, "start_date"); err != nil {
			respondError(c, err)
			return
		}
	}

	r, err := h.reports.GenerateWeeklyReport(c.Request.Context(), id, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWeeklyResponse(r))
}

func (h *ReportHandler) dateQuery(c *gin.Context, name string) (time.Time, error) {
	s := c.Query(name)
	if s == "" {
		return h.reports.Today(), nil
	}
	return report.ParseDate(s)
}
