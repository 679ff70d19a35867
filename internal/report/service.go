// Package report derives time-inside totals from the attendance event log.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
)

// Store is the read side of the event log. Missing rows are (nil, nil).
type Store interface {
	GetIdentity(ctx context.Context, id int64) (*models.Identity, error)
	// EventsBetween returns events with from <= ts < to, oldest first.
	EventsBetween(ctx context.Context, identityID int64, from, to time.Time) ([]models.AttendanceEvent, error)
	EventBefore(ctx context.Context, identityID int64, t time.Time) (*models.AttendanceEvent, error)
	EventAtOrAfter(ctx context.Context, identityID int64, t time.Time) (*models.AttendanceEvent, error)
	LastEvent(ctx context.Context, identityID int64) (*models.AttendanceEvent, error)
}

// Cache holds serialized daily reports per identity.
// Cache stores rendered daily reports. Get resolves key to a slot bound to
// the current invalidation generation; Set writes to that slot.
type Cache interface {
	Get(ctx context.Context, identityID int64, key string) (val []byte, slot string, ok bool, err error)
	Set(ctx context.Context, slot string, val []byte) error
}

type DailyReport struct {
	IdentityID   int64      `json:"identity_id"`
	Name         string     `json:"name"`
	Date         string     `json:"date"`
	TotalSeconds float64    `json:"total_seconds"`
	Hours        int        `json:"hours"`
	Minutes      int        `json:"minutes"`
	Formatted    string     `json:"formatted"`
	Intervals    []Interval `json:"intervals"`
	OpenSince    *time.Time `json:"open_since,omitempty"`
}

type DaySummary struct {
	Date         string  `json:"date"`
	TotalSeconds float64 `json:"total_seconds"`
	Hours        int     `json:"hours"`
	Minutes      int     `json:"minutes"`
	Formatted    string  `json:"formatted"`
}

type WeeklyReport struct {
	IdentityID   int64        `json:"identity_id"`
	Name         string       `json:"name"`
	Start        string       `json:"start"`
	End          string       `json:"end"`
	TotalSeconds float64      `json:"total_seconds"`
	Formatted    string       `json:"formatted"`
	Days         []DaySummary `json:"days"`
}

// StatusUnknown is reported when an identity has no events or is not enrolled.
const StatusUnknown = "unknown"

type Status struct {
	IdentityID int64                `json:"identity_id"`
	State      models.PresenceState `json:"state"`
	Kind       string               `json:"kind"`
	Timestamp  *time.Time           `json:"timestamp,omitempty"`
}

type Options struct {
	Location     *time.Location
	Policy       MidnightPolicy
	MaxRangeDays int
	// Timeout bounds each store call.
	Timeout time.Duration
	Now     func() time.Time
}

// OptionsFromConfig resolves the time zone and midnight policy of cfg.
func OptionsFromConfig(cfg config.ReportConfig, timeout time.Duration) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, err
	}
	policy, err := ParsePolicy(cfg.MidnightPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{Location: loc, Policy: policy, MaxRangeDays: cfg.MaxRangeDays, Timeout: timeout}, nil
}

type Service struct {
	store Store
	cache Cache
	opts  Options
	group singleflight.Group
}

// NewService builds a report service. cache may be nil.
func NewService(store Store, cache Cache, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Policy == "" {
		opts.Policy = PolicySplit
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = 62
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, cache: cache, opts: opts}
}

// Today returns the current calendar date in the report time zone.
func (s *Service) Today() time.Time {
	y, m, d := s.opts.Now().In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalculateTimeInside totals the intervals spent inside on day's calendar
// date, in the configured time zone.
func (s *Service) CalculateTimeInside(ctx context.Context, identityID int64, day time.Time) (DayTotals, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	w, err := s.loadWindow(ctx, identityID, day)
	if err != nil {
		return DayTotals{}, err
	}
	return pairDay(w, s.opts.Policy), nil
}

func (s *Service) loadWindow(ctx context.Context, identityID int64, day time.Time) (dayWindow, error) {
	start, end := DayBounds(day, s.opts.Location)
	w := dayWindow{Start: start, End: end}

	var err error
	if w.Events, err = s.store.EventsBetween(ctx, identityID, start, end); err != nil {
		return w, s.persistence(err, "events_between", "load events")
	}
	if s.opts.Policy == PolicySplit {
		if w.Before, err = s.store.EventBefore(ctx, identityID, start); err != nil {
			return w, s.persistence(err, "event_before", "load previous event")
		}
	}
	if trailingEntry(w) {
		if w.After, err = s.store.EventAtOrAfter(ctx, identityID, end); err != nil {
			return w, s.persistence(err, "event_after", "load next event")
		}
	}
	return w, nil
}

// trailingEntry reports whether the day ends with an interval still open.
func trailingEntry(w dayWindow) bool {
	if n := len(w.Events); n > 0 {
		return w.Events[n-1].Kind == models.KindEntry
	}
	return w.Before != nil && w.Before.Kind == models.KindEntry
}

// GenerateDailyReport returns the report for one identity and date. Reports
// for days that have fully elapsed are served from the cache when possible.
func (s *Service) GenerateDailyReport(ctx context.Context, identityID int64, day time.Time) (*DailyReport, error) {
	started := time.Now()
	defer func() { observability.ReportDuration.WithLabelValues("daily").Observe(time.Since(started).Seconds()) }()

	key := day.Format(DateLayout)
	_, end := DayBounds(day, s.opts.Location)
	cacheable := s.cache != nil && !end.After(s.opts.Now())

	var slot string
	if cacheable {
		r, resolved, ok := s.cachedDaily(ctx, identityID, key)
		if ok {
			return r, nil
		}
		slot = resolved
	}

	v, err, _ := s.group.Do(fmt.Sprintf("daily:%d:%s", identityID, key), func() (any, error) {
		ident, err := s.identity(ctx, identityID)
		if err != nil {
			return nil, err
		}
		totals, err := s.CalculateTimeInside(ctx, identityID, day)
		if err != nil {
			return nil, err
		}
		r := newDailyReport(ident, totals)
		if slot != "" {
			s.storeDaily(ctx, identityID, slot, r)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DailyReport), nil
}

// GenerateWeeklyReport sums daily totals for every date in [start, end].
func (s *Service) GenerateWeeklyReport(ctx context.Context, identityID int64, start, end time.Time) (*WeeklyReport, error) {
	started := time.Now()
	defer func() { observability.ReportDuration.WithLabelValues("weekly").Observe(time.Since(started).Seconds()) }()

	startDay, _ := DayBounds(start, time.UTC)
	endDay, _ := DayBounds(end, time.UTC)
	if startDay.After(endDay) {
		return nil, apperror.InvalidRange(startDay.Format(DateLayout), endDay.Format(DateLayout))
	}
	days := int(endDay.Sub(startDay).Hours()/24) + 1
	if days > s.opts.MaxRangeDays {
		return nil, apperror.Validation("range spans %d days, at most %d allowed", days, s.opts.MaxRangeDays)
	}

	ident, err := s.identity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	r := &WeeklyReport{
		IdentityID: ident.ID,
		Name:       ident.Name,
		Start:      startDay.Format(DateLayout),
		End:        endDay.Format(DateLayout),
		Days:       make([]DaySummary, 0, days),
	}
	var total time.Duration
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		totals, err := s.CalculateTimeInside(ctx, identityID, d)
		if err != nil {
			return nil, err
		}
		total += totals.Total
		h, m := splitHM(totals.Total)
		r.Days = append(r.Days, DaySummary{
			Date:         totals.Date,
			TotalSeconds: totals.Total.Seconds(),
			Hours:        h,
			Minutes:      m,
			Formatted:    FormatDuration(totals.Total),
		})
	}
	r.TotalSeconds = total.Seconds()
	r.Formatted = FormatDuration(total)
	return r, nil
}

// GetCurrentStatus reports the kind and time of the identity's latest event.
// Unknown identities and identities with no events report StatusUnknown.
func (s *Service) GetCurrentStatus(ctx context.Context, identityID int64) (Status, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	st := Status{IdentityID: identityID, State: models.StateNoRecord, Kind: StatusUnknown}
	last, err := s.store.LastEvent(ctx, identityID)
	if err != nil {
		return Status{}, s.persistence(err, "last_event", "load last event")
	}
	if last == nil {
		return st, nil
	}
	ts := last.Timestamp
	st.State = models.StateAfter(last)
	st.Kind = string(last.Kind)
	st.Timestamp = &ts
	return st, nil
}

func (s *Service) identity(ctx context.Context, id int64) (*models.Identity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ident, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, s.persistence(err, "get_identity", "load identity")
	}
	if ident == nil {
		return nil, apperror.NotFound(fmt.Sprintf("identity %d", id))
	}
	return ident, nil
}

func (s *Service) cachedDaily(ctx context.Context, identityID int64, key string) (*DailyReport, string, bool) {
	raw, slot, ok, err := s.cache.Get(ctx, identityID, key)
	if err != nil {
		observability.ReportCache.WithLabelValues("error").Inc()
		slog.Warn("report cache get", "identity_id", identityID, "date", key, "error", err)
		return nil, "", false
	}
	if !ok {
		observability.ReportCache.WithLabelValues("miss").Inc()
		return nil, slot, false
	}
	var r DailyReport
	if err := json.Unmarshal(raw, &r); err != nil {
		observability.ReportCache.WithLabelValues("error").Inc()
		return nil, slot, false
	}
	observability.ReportCache.WithLabelValues("hit").Inc()
	return &r, slot, true
}

func (s *Service) storeDaily(ctx context.Context, identityID int64, slot string, r *DailyReport) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, slot, raw); err != nil {
		slog.Warn("report cache set", "identity_id", identityID, "date", r.Date, "error", err)
	}
}

func (s *Service) persistence(err error, op, msg string) error {
	observability.PersistenceFailures.WithLabelValues(op).Inc()
	return apperror.Persistence(err, msg)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func newDailyReport(ident *models.Identity, t DayTotals) *DailyReport {
	h, m := splitHM(t.Total)
	return &DailyReport{
		IdentityID:   ident.ID,
		Name:         ident.Name,
		Date:         t.Date,
		TotalSeconds: t.Total.Seconds(),
		Hours:        h,
		Minutes:      m,
		Formatted:    FormatDuration(t.Total),
		Intervals:    t.Intervals,
		OpenSince:    t.OpenSince,
	}
}
