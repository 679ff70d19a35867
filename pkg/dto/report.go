package dto

type IntervalResponse struct {
	Entry   string `json:"entry"`
	Exit    string `json:"exit"`
	Seconds int64  `json:"seconds"`
	Clipped bool   `json:"clipped,omitempty"`
}

type DailyReportResponse struct {
	IdentityID   int64              `json:"identity_id"`
	Name         string             `json:"name"`
	Date         string             `json:"date"`
	TotalSeconds float64            `json:"total_seconds"`
	Hours        int                `json:"hours"`
	Minutes      int                `json:"minutes"`
	Formatted    string             `json:"formatted"`
	Intervals    []IntervalResponse `json:"intervals"`
	OpenSince    string             `json:"open_since,omitempty"`
}

type DaySummaryResponse struct {
	Date         string  `json:"date"`
	TotalSeconds float64 `json:"total_seconds"`
	Formatted    string  `json:"formatted"`
}

type WeeklyReportResponse struct {
	IdentityID   int64                `json:"identity_id"`
	Name         string               `json:"name"`
	StartDate    string               `json:"start_date"`
	EndDate      string               `json:"end_date"`
	TotalSeconds float64              `json:"total_seconds"`
	Formatted    string               `json:"formatted"`
	Days         []DaySummaryResponse `json:"days"`
}

type StatusResponse struct {
	IdentityID int64  `json:"identity_id"`
	State      string `json:"state"`
	Kind       string `json:"kind,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}
