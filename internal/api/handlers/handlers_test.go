package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/purge"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/report"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
	"github.com/your-org/presence/pkg/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memIdentities struct {
	mu     sync.Mutex
	rows   []models.Identity
	nextID int64
	err    error
}

func (m *memIdentities) ListIdentities(context.Context) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Identity(nil), m.rows...), m.err
}

func (m *memIdentities) UpsertIdentity(_ context.Context, ident *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if ident.ID == 0 {
		m.nextID++
		ident.ID = m.nextID
	}
	m.rows = append(m.rows, *ident)
	return nil
}

func newRoster(t *testing.T, idents ...models.Identity) (*roster.Roster, *memIdentities) {
	t.Helper()
	store := &memIdentities{rows: idents, nextID: 100}
	r := roster.New(store, 3, time.Second)
	require.NoError(t, r.Load(context.Background()))
	return r, store
}

type fakeNotifier struct{ changes []queue.RosterChange }

func (f *fakeNotifier) NotifyRosterChanged(c queue.RosterChange) error {
	f.changes = append(f.changes, c)
	return nil
}

type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) PutJPEG(_ context.Context, key string, data []byte) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeImages) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

type fakeVision struct {
	faces map[string][]vision.Face
}

func (f fakeVision) DetectAndEncode(_ context.Context, image []byte) ([]vision.Face, error) {
	return f.faces[string(image)], nil
}

func (f fakeVision) EmbeddingDim() int { return 3 }

type fakeObserver struct {
	observeFn func(id int64, now time.Time) (presence.Outcome, error)
}

func (f fakeObserver) Observe(_ context.Context, id int64, now time.Time, _ presence.Meta) (presence.Outcome, error) {
	return f.observeFn(id, now)
}

type fakeEvents struct {
	events []models.AttendanceEvent
	err    error
}

func (f fakeEvents) ListEvents(context.Context, int64, time.Time, time.Time, int) ([]models.AttendanceEvent, error) {
	return f.events, f.err
}

type recorder struct {
	invalidated []int64
	published   []models.AttendanceMessage
}

func (r *recorder) Invalidate(_ context.Context, id int64) error {
	r.invalidated = append(r.invalidated, id)
	return nil
}

func (r *recorder) PublishAttendance(_ context.Context, msg models.AttendanceMessage) error {
	r.published = append(r.published, msg)
	return nil
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

var ada = models.Identity{ID: 1, Name: "Ada", Embedding: []float32{1, 0, 0}}

func identityRouter(h *IdentityHandler) *gin.Engine {
	r := gin.New()
	r.POST("/identities", h.Create)
	r.POST("/identities/enroll", h.Enroll)
	r.GET("/identities", h.List)
	r.GET("/identities/:id", h.Get)
	return r
}

func TestIdentityHandler_Create(t *testing.T) {
	ros, _ := newRoster(t)
	notifier := &fakeNotifier{}
	r := identityRouter(NewIdentityHandler(ros, &fakeImages{}, notifier))

	w := doJSON(t, r, http.MethodPost, "/identities", dto.CreateIdentityRequest{Name: " Grace ", Embedding: []float32{0, 1, 0}})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.IdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(101), resp.ID)
	assert.Equal(t, "Grace", resp.Name)
	assert.Equal(t, 3, resp.Dim)
	assert.Equal(t, 1, ros.Len())
	require.Len(t, notifier.changes, 1)
	assert.Equal(t, int64(101), notifier.changes[0].IdentityID)
}

func TestIdentityHandler_CreateErrors(t *testing.T) {
	ros, store := newRoster(t)
	r := identityRouter(NewIdentityHandler(ros, &fakeImages{}, nil))

	w := doJSON(t, r, http.MethodPost, "/identities", dto.CreateIdentityRequest{Name: "X", Embedding: []float32{1, 2}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeDimensionMismatch, errorCode(t, w))

	w = doJSON(t, r, http.MethodPost, "/identities", map[string]any{"embedding": []float32{1, 0, 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, errorCode(t, w))

	neg := int64(-4)
	w = doJSON(t, r, http.MethodPost, "/identities", dto.CreateIdentityRequest{ID: &neg, Name: "X", Embedding: []float32{1, 0, 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.err = errors.New("db down")
	w = doJSON(t, r, http.MethodPost, "/identities", dto.CreateIdentityRequest{Name: "X", Embedding: []float32{1, 0, 0}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apperror.CodePersistence, errorCode(t, w))
	assert.Zero(t, ros.Len())
}

func TestIdentityHandler_ListAndGet(t *testing.T) {
	ros, _ := newRoster(t, ada)
	r := identityRouter(NewIdentityHandler(ros, &fakeImages{}, nil))

	w := doJSON(t, r, http.MethodGet, "/identities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.IdentityListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "Ada", list.Identities[0].Name)

	w = doJSON(t, r, http.MethodGet, "/identities/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/identities/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeNotFound, errorCode(t, w))

	w = doJSON(t, r, http.MethodGet, "/identities/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartEnroll(t *testing.T, name string, images ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", name))
	for i, img := range images {
		fw, err := mw.CreateFormFile("image", "face"+string(rune('a'+i))+".jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte(img))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/identities/enroll", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIdentityHandler_EnrollAveragesSamples(t *testing.T) {
	ros, _ := newRoster(t)
	images := &fakeImages{}
	h := NewIdentityHandler(ros, images, nil)
	h.Vision = fakeVision{faces: map[string][]vision.Face{
		"img1": {{Confidence: 0.9, Embedding: []float32{1, 0, 0}}},
		"img2": {
			{Confidence: 0.4, Embedding: []float32{0, 0, 1}},
			{Confidence: 0.95, Embedding: []float32{0, 1, 0}},
		},
	}}
	r := identityRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartEnroll(t, "Linus", "img1", "img2"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.EnrollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Samples)
	assert.Len(t, resp.SourceKeys, 2)
	assert.Len(t, images.objects, 2)

	ident, ok := ros.Lookup(resp.Identity.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.7071, ident.Embedding[0], 1e-3)
	assert.InDelta(t, 0.7071, ident.Embedding[1], 1e-3)
	assert.InDelta(t, 0, ident.Embedding[2], 1e-6)
}

func TestIdentityHandler_EnrollErrors(t *testing.T) {
	ros, _ := newRoster(t)

	r := identityRouter(NewIdentityHandler(ros, &fakeImages{}, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartEnroll(t, "Linus", "img1"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h := NewIdentityHandler(ros, &fakeImages{}, nil)
	h.Vision = fakeVision{}
	r = identityRouter(h)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartEnroll(t, "Linus", "blank"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartEnroll(t, "Linus"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, ros.Len())
}

func presenceRouter(h *PresenceHandler) *gin.Engine {
	r := gin.New()
	r.POST("/observations", h.Observe)
	r.POST("/match", h.Match)
	r.GET("/identities/:id/events", h.Events)
	r.GET("/identities/:id/events/:eventId/snapshot", h.Snapshot)
	return r
}

func TestPresenceHandler_Observe(t *testing.T) {
	ros, _ := newRoster(t, ada)
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	emit := true
	obs := fakeObserver{observeFn: func(id int64, now time.Time) (presence.Outcome, error) {
		if !emit {
			return presence.Outcome{Suppressed: true, State: models.StateInside}, nil
		}
		ev := &models.AttendanceEvent{ID: 5, IdentityID: id, Kind: models.KindEntry, Timestamp: now}
		return presence.Outcome{Event: ev, State: models.StateInside}, nil
	}}
	rec := &recorder{}
	h := NewPresenceHandler(ros, obs, fakeEvents{}, &fakeImages{}, 0)
	h.Publisher = rec
	h.Invalidator = rec
	r := presenceRouter(h)

	w := doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1, Timestamp: &at})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.ObservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Emitted)
	assert.Equal(t, "inside", resp.State)
	require.NotNil(t, resp.Event)
	assert.Equal(t, "entry", resp.Event.Kind)
	assert.Equal(t, "2024-01-15T09:00:00Z", resp.Event.Timestamp)
	assert.Equal(t, []int64{1}, rec.invalidated)
	require.Len(t, rec.published, 1)
	assert.Equal(t, "Ada", rec.published[0].Name)

	emit = false
	w = doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Emitted)
	assert.Len(t, rec.published, 1)
}

func TestPresenceHandler_ObserveErrors(t *testing.T) {
	ros, _ := newRoster(t, ada)
	obs := fakeObserver{observeFn: func(int64, time.Time) (presence.Outcome, error) {
		return presence.Outcome{}, apperror.Persistence(errors.New("timeout"), "commit event")
	}}
	r := presenceRouter(NewPresenceHandler(ros, obs, fakeEvents{}, &fakeImages{}, 0))

	w := doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 42})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apperror.CodePersistence, errorCode(t, w))
}

func TestPresenceHandler_ObserveRejectsFutureTimestamp(t *testing.T) {
	ros, _ := newRoster(t, ada)
	serverNow := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	var seen []time.Time
	obs := fakeObserver{observeFn: func(id int64, now time.Time) (presence.Outcome, error) {
		seen = append(seen, now)
		ev := &models.AttendanceEvent{ID: int64(len(seen)), IdentityID: id, Kind: models.KindEntry, Timestamp: now}
		return presence.Outcome{Event: ev, State: models.StateInside}, nil
	}}
	h := NewPresenceHandler(ros, obs, fakeEvents{}, &fakeImages{}, 0)
	h.now = func() time.Time { return serverNow }
	r := presenceRouter(h)

	future := serverNow.AddDate(5, 0, 0)
	w := doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1, Timestamp: &future})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, errorCode(t, w))
	assert.Empty(t, seen)

	tooFar := serverNow.Add(defaultMaxClockSkew + time.Second)
	w = doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1, Timestamp: &tooFar})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, seen)

	slightlyAhead := serverNow.Add(5 * time.Second)
	w = doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1, Timestamp: &slightlyAhead})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, seen, 1)
	assert.True(t, slightlyAhead.Equal(seen[0]))

	h.MaxClockSkew = time.Minute
	w = doJSON(t, r, http.MethodPost, "/observations", dto.ObservationRequest{IdentityID: 1, Timestamp: &tooFar})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, seen, 2)
}

func TestPresenceHandler_Match(t *testing.T) {
	grace := models.Identity{ID: 2, Name: "Grace", Embedding: []float32{0, 1, 0}}
	ros, _ := newRoster(t, ada, grace)
	r := presenceRouter(NewPresenceHandler(ros, fakeObserver{}, fakeEvents{}, &fakeImages{}, 0.6))

	w := doJSON(t, r, http.MethodPost, "/match", dto.MatchRequest{Embedding: []float32{0.1, 0.9, 0}})
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)
	assert.Equal(t, int64(2), resp.IdentityID)
	assert.Equal(t, "Grace", resp.Name)

	w = doJSON(t, r, http.MethodPost, "/match", dto.MatchRequest{Embedding: []float32{0, 0, 1}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
	assert.Zero(t, resp.IdentityID)

	w = doJSON(t, r, http.MethodPost, "/match", dto.MatchRequest{Embedding: []float32{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeDimensionMismatch, errorCode(t, w))
}

func TestPresenceHandler_MatchEmptyRoster(t *testing.T) {
	ros, _ := newRoster(t)
	r := presenceRouter(NewPresenceHandler(ros, fakeObserver{}, fakeEvents{}, &fakeImages{}, 0))

	w := doJSON(t, r, http.MethodPost, "/match", dto.MatchRequest{Embedding: []float32{1, 0, 0}})
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
	assert.Equal(t, -1.0, resp.Distance)
}

func TestPresenceHandler_EventsAndSnapshot(t *testing.T) {
	ros, _ := newRoster(t, ada)
	events := fakeEvents{events: []models.AttendanceEvent{
		{ID: 8, IdentityID: 1, Kind: models.KindExit, Timestamp: time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC), SnapshotKey: storage.SnapshotKey(1, 8)},
		{ID: 7, IdentityID: 1, Kind: models.KindEntry, Timestamp: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
	}}
	images := &fakeImages{objects: map[string][]byte{storage.SnapshotKey(1, 8): []byte("jpeg")}}
	r := presenceRouter(NewPresenceHandler(ros, fakeObserver{}, events, images, 0))

	w := doJSON(t, r, http.MethodGet, "/identities/1/events?from=2024-01-15T00:00:00Z&to=2024-01-16T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "/v1/identities/1/events/8/snapshot", list.Events[0].SnapshotURL)
	assert.Empty(t, list.Events[1].SnapshotURL)

	w = doJSON(t, r, http.MethodGet, "/identities/1/events?from=2024-01-16T00:00:00Z&to=2024-01-15T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidRange, errorCode(t, w))

	w = doJSON(t, r, http.MethodGet, "/identities/1/events/8/snapshot", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = doJSON(t, r, http.MethodGet, "/identities/1/events/9/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeReports struct {
	dailyFn  func(id int64, day time.Time) (*report.DailyReport, error)
	weeklyFn func(id int64, start, end time.Time) (*report.WeeklyReport, error)
	statusFn func(id int64) (report.Status, error)
	today    time.Time
}

func (f fakeReports) GenerateDailyReport(_ context.Context, id int64, day time.Time) (*report.DailyReport, error) {
	return f.dailyFn(id, day)
}

func (f fakeReports) GenerateWeeklyReport(_ context.Context, id int64, start, end time.Time) (*report.WeeklyReport, error) {
	return f.weeklyFn(id, start, end)
}

func (f fakeReports) GetCurrentStatus(_ context.Context, id int64) (report.Status, error) {
	return f.statusFn(id)
}

func (f fakeReports) Today() time.Time { return f.today }

func reportRouter(h *ReportHandler) *gin.Engine {
	r := gin.New()
	r.GET("/identities/:id/status", h.Status)
	r.GET("/reports/daily/:id", h.Daily)
	r.GET("/reports/weekly/:id", h.Weekly)
	return r
}

func TestReportHandler_Daily(t *testing.T) {
	var gotDay time.Time
	svc := fakeReports{
		today: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		dailyFn: func(id int64, day time.Time) (*report.DailyReport, error) {
			gotDay = day
			if id == 9 {
				return nil, apperror.NotFound("identity 9")
			}
			entry := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
			return &report.DailyReport{
				IdentityID: id, Name: "Ada", Date: "2024-01-15",
				TotalSeconds: 12600, Hours: 3, Minutes: 30, Formatted: "3h 30m",
				Intervals: []report.Interval{{Entry: entry, Exit: entry.Add(3*time.Hour + 30*time.Minute), Duration: 3*time.Hour + 30*time.Minute}},
			}, nil
		},
	}
	r := reportRouter(NewReportHandler(svc))

	w := doJSON(t, r, http.MethodGet, "/reports/daily/1?date=2024-01-15", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.DailyReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12600.0, resp.TotalSeconds)
	assert.Equal(t, "3h 30m", resp.Formatted)
	require.Len(t, resp.Intervals, 1)
	assert.Equal(t, int64(12600), resp.Intervals[0].Seconds)
	assert.Equal(t, "2024-01-15", gotDay.Format(report.DateLayout))

	w = doJSON(t, r, http.MethodGet, "/reports/daily/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-01-20", gotDay.Format(report.DateLayout))

	w = doJSON(t, r, http.MethodGet, "/reports/daily/1?date=15-01-2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, errorCode(t, w))

	w = doJSON(t, r, http.MethodGet, "/reports/daily/9?date=2024-01-15", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHandler_Weekly(t *testing.T) {
	var gotStart, gotEnd time.Time
	svc := fakeReports{
		today: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		weeklyFn: func(id int64, start, end time.Time) (*report.WeeklyReport, error) {
			gotStart, gotEnd = start, end
			if start.After(end) {
				return nil, apperror.InvalidRange(start.Format(report.DateLayout), end.Format(report.DateLayout))
			}
			return &report.WeeklyReport{IdentityID: id, Start: start.Format(report.DateLayout), End: end.Format(report.DateLayout),
				TotalSeconds: 56700, Formatted: "15h 45m", Days: []report.DaySummary{{Date: "2024-01-08", TotalSeconds: 56700, Formatted: "15h 45m"}}}, nil
		},
	}
	r := reportRouter(NewReportHandler(svc))

	w := doJSON(t, r, http.MethodGet, "/reports/weekly/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-01-08", gotStart.Format(report.DateLayout))
	assert.Equal(t, "2024-01-14", gotEnd.Format(report.DateLayout))
	var resp dto.WeeklyReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "15h 45m", resp.Formatted)
	assert.Len(t, resp.Days, 1)

	w = doJSON(t, r, http.MethodGet, "/reports/weekly/1?start_date=2024-01-20&end_date=2024-01-10", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidRange, errorCode(t, w))
}

func TestReportHandler_Status(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	svc := fakeReports{statusFn: func(id int64) (report.Status, error) {
		if id == 2 {
			return report.Status{IdentityID: id, State: models.StateNoRecord, Kind: report.StatusUnknown}, nil
		}
		return report.Status{IdentityID: id, State: models.StateInside, Kind: "entry", Timestamp: &ts}, nil
	}}
	r := reportRouter(NewReportHandler(svc))

	w := doJSON(t, r, http.MethodGet, "/identities/1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "inside", resp.State)
	assert.Equal(t, "entry", resp.Kind)
	assert.Equal(t, "2024-01-15T09:00:00Z", resp.Timestamp)

	w = doJSON(t, r, http.MethodGet, "/identities/2/status", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unknown", resp.Kind)
	assert.Empty(t, resp.Timestamp)
}

type fakePurger struct {
	include bool
	err     error
}

func (f *fakePurger) Run(_ context.Context, includeIdentities bool) (purge.Result, error) {
	f.include = includeIdentities
	if f.err != nil {
		return purge.Result{}, f.err
	}
	return purge.Result{Events: 12, Identities: 3, Objects: map[string]int{storage.SnapshotsPrefix: 2}}, nil
}

func TestAdminHandler_Purge(t *testing.T) {
	p := &fakePurger{}
	r := gin.New()
	r.POST("/admin/purge", NewAdminHandler(p).Purge)

	w := doJSON(t, r, http.MethodPost, "/admin/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, p.include)

	w = doJSON(t, r, http.MethodPost, "/admin/purge", dto.PurgeRequest{IncludeIdentities: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, p.include)
	var resp dto.PurgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(12), resp.Events)
	assert.Equal(t, 2, resp.Objects[storage.SnapshotsPrefix])

	w = doJSON(t, r, http.MethodPost, "/admin/purge", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = apperror.Persistence(errors.New("db down"), "purge records")
	w = doJSON(t, r, http.MethodPost, "/admin/purge", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSystemHandler_Readyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	r := gin.New()
	r.GET("/ready", NewSystemHandler(map[string]Check{"postgres": ok, "nats": ok}).Readyz)
	r.GET("/notready", NewSystemHandler(map[string]Check{"postgres": ok, "redis": down}).Readyz)

	w := doJSON(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/notready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
