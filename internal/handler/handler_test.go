package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/model"
	"scanattend/internal/realtime"
	"scanattend/internal/store"
	"scanattend/internal/users"
)

const testSecret = "device-secret"

var (
	testLoc   = time.FixedZone("TEST", 5*60*60)
	testStart = time.Date(2024, 1, 1, 9, 0, 0, 0, testLoc)
)

type testEnv struct {
	router *gin.Engine
	hub    *realtime.Hub
	users  *users.Service
	clock  clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := clockwork.NewFakeClockAt(testStart)
	hub := realtime.NewHub(8, nil)
	tokens := auth.NewTokens("test-secret-key-at-least-32-chars-long", "test", time.Hour, clock)
	att := attendance.NewService(attendance.NewRepository(db, clock, testLoc), hub, testSecret, nil)
	us := users.NewService(users.NewRepository(db, clock, testLoc), auth.NewHasher(bcrypt.MinCost), tokens)

	h := New(Deps{
		Attendance: att,
		Users:      us,
		Tokens:     tokens,
		Hub:        hub,
		DB:         db,
		Clock:      clock,
	})
	r := gin.New()
	h.Routes(r)
	return &testEnv{router: r, hub: hub, users: us, clock: clock}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedUser(t *testing.T, username, password string, role model.Role) {
	t.Helper()
	_, err := e.users.Register(context.Background(), username, password, string(role))
	require.NoError(t, err)
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/login", gin.H{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

// =============================================================================
// Auth
// =============================================================================

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", "pw", model.RoleAdmin)

	w := e.do(http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "pw"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Success bool          `json:"success"`
		Token   string        `json:"token"`
		User    auth.Identity `json:"user"`
	}](t, w)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "alice", body.User.Username)
	assert.Equal(t, model.RoleAdmin, body.User.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = e.do(http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid credentials", errorOf(t, w))

	w = e.do(http.MethodPost, "/api/auth/login", gin.H{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMe(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "bob", "pw", model.RoleUser)
	token := e.login(t, "bob", "pw")

	w := e.do(http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[auth.Identity](t, w)
	assert.Equal(t, "bob", me.Username)
	assert.Equal(t, model.RoleUser, me.Role)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/auth/me", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/auth/me", nil, "garbage").Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "bob", "pw", model.RoleUser)
	token := e.login(t, "bob", "pw")

	e.clock.Advance(2 * time.Hour)
	w := e.do(http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// Accounts
// =============================================================================

func TestNonAdminCannotDelete(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", "pw", model.RoleAdmin)
	e.seedUser(t, "bob", "pw", model.RoleUser)
	e.seedUser(t, "carol", "pw", model.RoleUser)
	token := e.login(t, "carol", "pw")

	w := e.do(http.MethodDelete, "/api/users/bob", nil, token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := decode[[]model.User](t, e.do(http.MethodGet, "/api/users", nil, e.login(t, "alice", "pw")))
	var names []string
	for _, u := range list {
		names = append(names, u.Username)
	}
	assert.Contains(t, names, "bob")
}

func TestAdminAccountManagement(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "alice", "pw", model.RoleAdmin)
	admin := e.login(t, "alice", "pw")

	w := e.do(http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "password": "pw"}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reg := decode[struct {
		Success bool       `json:"success"`
		User    model.User `json:"user"`
	}](t, w)
	assert.True(t, reg.Success)
	assert.Equal(t, model.RoleUser, reg.User.Role)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = e.do(http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "password": "pw"}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = e.do(http.MethodPost, "/api/auth/register", gin.H{"username": "carol"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodPost, "/api/auth/register", gin.H{"username": "carol", "password": "pw", "role": "root"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list := decode[[]model.User](t, e.do(http.MethodGet, "/api/users", nil, admin))
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Username)

	w = e.do(http.MethodPut, "/api/users/bob/password", gin.H{"newPassword": "fresh"}, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	e.login(t, "bob", "fresh")
	w = e.do(http.MethodPut, "/api/users/ghost/password", gin.H{"newPassword": "fresh"}, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodDelete, "/api/users/alice", nil, admin).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/users/bob", nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/api/users/bob", nil, admin).Code)
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "bob", "old", model.RoleUser)
	token := e.login(t, "bob", "old")

	w := e.do(http.MethodPost, "/api/auth/change-password", gin.H{"oldPassword": "wrong", "newPassword": "new"}, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/auth/change-password", gin.H{"oldPassword": "old"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/change-password", gin.H{"oldPassword": "old", "newPassword": "new"}, token)
	assert.Equal(t, http.StatusOK, w.Code)
	e.login(t, "bob", "new")
}

// =============================================================================
// Attendance
// =============================================================================

type ingestResponse struct {
	Success bool                   `json:"success"`
	Record  model.AttendanceRecord `json:"record"`
}

func TestIngestBroadcastsStoredRecord(t *testing.T) {
	e := newTestEnv(t)
	sub := e.hub.Subscribe()
	defer sub.Close()

	w := e.do(http.MethodPost, "/api/attendance", gin.H{"barcode": "A123", "device_id": "gate1", "secret": testSecret}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[ingestResponse](t, w)
	assert.True(t, body.Success)
	assert.Equal(t, "A123", body.Record.Barcode)
	assert.Equal(t, "gate1", body.Record.DeviceID)
	assert.True(t, body.Record.Timestamp.Equal(testStart))

	select {
	case evt := <-sub.C:
		assert.Equal(t, realtime.EventNewScan, evt.Type)
		assert.Equal(t, body.Record.ID, evt.Record.ID)
		assert.Equal(t, body.Record.Barcode, evt.Record.Barcode)
		assert.True(t, body.Record.Timestamp.Equal(evt.Record.Timestamp))
	default:
		t.Fatal("no broadcast")
	}
}

func TestIngestRejections(t *testing.T) {
	e := newTestEnv(t)
	sub := e.hub.Subscribe()
	defer sub.Close()

	w := e.do(http.MethodPost, "/api/attendance", gin.H{"barcode": "A123", "secret": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/attendance", gin.H{"secret": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/attendance", "{not json", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/attendance", gin.H{"secret": testSecret}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, decode[[]model.AttendanceRecord](t, e.do(http.MethodGet, "/api/attendance", nil, "")))
	assert.Len(t, sub.C, 0)
}

func TestIngestAcceptsNumericFields(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodPost, "/api/attendance", `{"barcode": 12345, "device_id": "gate1", "secret": "`+testSecret+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "12345", decode[ingestResponse](t, w).Record.Barcode)

	w = e.do(http.MethodPost, "/api/attendance", `{"barcode": "A1", "device_id": 7, "secret": "`+testSecret+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "7", decode[ingestResponse](t, w).Record.DeviceID)

	// a correct secret gets past the gate even when the barcode is unusable
	for _, barcode := range []string{"true", "null", "{}", "[1]"} {
		w = e.do(http.MethodPost, "/api/attendance", `{"barcode": `+barcode+`, "secret": "`+testSecret+`"}`, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, barcode)
	}

	w = e.do(http.MethodPost, "/api/attendance", `{"barcode": 12345, "secret": "wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	recs := decode[[]model.AttendanceRecord](t, e.do(http.MethodGet, "/api/attendance", nil, ""))
	assert.Len(t, recs, 2)
}

func (e *testEnv) ingestAt(t *testing.T, at time.Time, barcode, device string) model.AttendanceRecord {
	t.Helper()
	e.clock.Advance(at.Sub(e.clock.Now()))
	w := e.do(http.MethodPost, "/api/attendance", gin.H{"barcode": barcode, "device_id": device, "secret": testSecret}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[ingestResponse](t, w).Record
}

func TestAttendanceQueries(t *testing.T) {
	e := newTestEnv(t)
	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, testLoc)
	e.ingestAt(t, day1, "A1", "gate1")
	e.ingestAt(t, day1.Add(time.Hour), "A2", "gate2")
	e.ingestAt(t, day1.Add(2*time.Hour), "A3", "gate1")
	e.ingestAt(t, day1.AddDate(0, 0, 1), "B1", "gate1")

	recs := decode[[]model.AttendanceRecord](t, e.do(http.MethodGet, "/api/attendance?date=2024-01-01&device=gate1", nil, ""))
	require.Len(t, recs, 2)
	assert.Equal(t, "A3", recs[0].Barcode)
	assert.Equal(t, "A1", recs[1].Barcode)

	recs = decode[[]model.AttendanceRecord](t, e.do(http.MethodGet, "/api/attendance-range?start=2024-01-01&end=2024-01-02&device=all", nil, ""))
	assert.Len(t, recs, 4)
	assert.Equal(t, "B1", recs[0].Barcode)

	w := e.do(http.MethodGet, "/api/attendance?date=01/01/2024", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	devices := decode[[]string](t, e.do(http.MethodGet, "/api/devices", nil, ""))
	assert.Equal(t, []string{"gate1", "gate2"}, devices)

	stats := decode[model.Stats](t, e.do(http.MethodGet, "/api/stats", nil, ""))
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 1, stats.TotalToday)
	assert.EqualValues(t, 4, stats.TotalWeek)
	assert.Equal(t, "gate1", stats.MostActiveDevice)

	activity := decode[[]model.DeviceActivity](t, e.do(http.MethodGet, "/api/device-activity", nil, ""))
	require.Len(t, activity, 1)
	assert.Equal(t, "gate1", activity[0].DeviceID)
	assert.EqualValues(t, 1, activity[0].ScansToday)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["db"])
}
