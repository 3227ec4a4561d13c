package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"copier-fleet-backend/internal/audit"
	"copier-fleet-backend/internal/db"
	"copier-fleet-backend/internal/fleet"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/mw"
	"copier-fleet-backend/internal/store"
)

var (
	secret = []byte("api-test-secret")
	admin  = model.Actor{ID: "admin", Role: model.RoleAdmin}
	clerk  = model.Actor{ID: "clerk", Role: model.RoleUser, Branch: "north"}
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	router *gin.Engine
	db     *gorm.DB
	audit  *audit.Recorder
	north  model.Machine
	south  model.Machine
	model  model.MachineModel
	toner  model.ModelPart
}

func newServer(t *testing.T, push *webpush.Options) server {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	mm := model.MachineModel{Name: "C300"}
	require.NoError(t, gdb.Create(&mm).Error)
	north := model.Machine{SerialNumber: "N-100", HasMono: true, HasColour: true, IsActive: true, ModelID: &mm.ID, Branch: "north"}
	south := model.Machine{SerialNumber: "S-100", HasMono: true, IsActive: true, ModelID: &mm.ID, Branch: "south"}
	require.NoError(t, gdb.Create(&north).Error)
	require.NoError(t, gdb.Create(&south).Error)
	toner := model.ModelPart{ModelID: mm.ID, PartName: "Black toner", ItemCode: "TN-300K", PartType: model.PartToner,
		TonerColor: "black", ExpectedYield: 10000, CostRand: decimal.NewFromInt(1000), MeterType: model.MeterMono}
	require.NoError(t, gdb.Create(&toner).Error)

	st := store.NewGormStore(gdb)
	rec := &audit.Recorder{}
	svc := fleet.NewService(st, rec, nil, fleet.Thresholds{NearEndOfLifePercent: 90, TonerDueFraction: 0.9}, zap.NewNop())
	router := NewRouter(NewHandler(svc, st, push, time.UTC), RouterOptions{
		JWTSecret:       secret,
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTL:        time.Minute,
		Logger:          zap.NewNop(),
	})
	return server{router: router, db: gdb, audit: rec, north: north, south: south, model: mm, toner: toner}
}

func (s server) do(t *testing.T, method, path string, who *model.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		tok, err := mw.IssueToken(secret, *who, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func path(format string, args ...any) string {
	return "/api" + fmt.Sprintf(format, args...)
}

type errorBody struct {
	Error  string `json:"error"`
	Fields []struct {
		Field   string `json:"field"`
		Row     int    `json:"row"`
		OrderID int64  `json:"orderId"`
	} `json:"fields"`
}

func TestReadings_CaptureAndOverview(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(t, http.MethodPut, path("/machines/%d/readings/2024-01", s.north.ID), &clerk,
		gin.H{"monoReading": 1000, "colourReading": 50})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPut, path("/machines/%d/readings/2024-02", s.north.ID), &clerk,
		gin.H{"monoReading": 1600, "colourReading": 80, "note": "front panel"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[readingResponse](t, w)
	assert.True(t, created.Created)
	require.NotNil(t, created.Reading.MonoUsage)
	assert.Equal(t, int64(600), *created.Reading.MonoUsage)
	assert.Nil(t, created.Reading.ScanUsage)

	w = s.do(t, http.MethodPut, path("/machines/%d/readings/2024-02", s.north.ID), &clerk,
		gin.H{"monoReading": 1700, "colourReading": 80})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[readingResponse](t, w).Created)

	w = s.do(t, http.MethodGet, "/api/readings?year=2024&month=2", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ov := decode[fleet.Overview](t, w)
	assert.Equal(t, 2, ov.Summary.TotalMachines)
	assert.Equal(t, 1, ov.Summary.CapturedCount)
	assert.Equal(t, 50, ov.Summary.CompletionPercent)
	require.Len(t, ov.Pending, 1)
	assert.Equal(t, s.south.ID, ov.Pending[0].ID)

	w = s.do(t, http.MethodGet, "/api/readings?year=2024&month=2", &clerk, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ov = decode[fleet.Overview](t, w)
	assert.Equal(t, "north", ov.Branch)
	assert.Equal(t, 100, ov.Summary.CompletionPercent)

	assert.Equal(t, []audit.Action{audit.ActionReadingCapture, audit.ActionReadingCapture, audit.ActionReadingCapture}, s.audit.Actions())
}

func TestReadings_Errors(t *testing.T) {
	s := newServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPut, path("/machines/%d/readings/2024-03", s.north.ID), &admin,
		gin.H{"monoReading": 500, "colourReading": 20}).Code)

	testCases := []struct {
		name         string
		method       string
		path         string
		who          *model.Actor
		body         any
		expectedCode int
		expectedErr  string
	}{
		{
			name: "no token", method: http.MethodGet, path: "/api/readings?year=2024&month=3",
			expectedCode: http.StatusUnauthorized,
		},
		{
			name: "bad period", method: http.MethodPut, path: path("/machines/%d/readings/2024-13", s.north.ID), who: &admin,
			body: gin.H{"monoReading": 1}, expectedCode: http.StatusBadRequest,
		},
		{
			name: "bad machine id", method: http.MethodPut, path: "/api/machines/abc/readings/2024-03", who: &admin,
			body: gin.H{"monoReading": 1}, expectedCode: http.StatusBadRequest, expectedErr: "invalid machine_id",
		},
		{
			name: "other branch is not found", method: http.MethodPut, path: path("/machines/%d/readings/2024-03", s.south.ID), who: &clerk,
			body: gin.H{"monoReading": 1}, expectedCode: http.StatusNotFound,
		},
		{
			name: "decreasing counter", method: http.MethodPut, path: path("/machines/%d/readings/2024-04", s.north.ID), who: &clerk,
			body: gin.H{"monoReading": 400, "colourReading": 20}, expectedCode: http.StatusUnprocessableEntity, expectedErr: "validation failed",
		},
		{
			name: "other branch overview is forbidden", method: http.MethodGet, path: "/api/readings?year=2024&month=3&branch=south", who: &clerk,
			expectedCode: http.StatusForbidden,
		},
		{
			name: "malformed body", method: http.MethodPost, path: "/api/readings/batch", who: &admin,
			body: "not an object", expectedCode: http.StatusBadRequest, expectedErr: "invalid request",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, tc.who, tc.body)
			assert.Equal(t, tc.expectedCode, w.Code, w.Body.String())
			if tc.expectedErr != "" {
				assert.Equal(t, tc.expectedErr, decode[errorBody](t, w).Error)
			}
		})
	}

	w := s.do(t, http.MethodPut, path("/machines/%d/readings/2024-04", s.north.ID), &clerk, gin.H{"monoReading": 400, "colourReading": 20})
	fields := decode[errorBody](t, w).Fields
	require.Len(t, fields, 1)
	assert.Equal(t, "monoReading", fields[0].Field)
}

func TestReadings_Batch(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/readings/batch", &admin, gin.H{"rows": []gin.H{
		{"machineId": s.north.ID, "period": "2024-05", "monoReading": 10, "colourReading": 1},
		{"serialNumber": " s-100", "period": "2024-05", "monoReading": 20},
		{"serialNumber": "missing", "period": "2024-05", "monoReading": 20},
		{"machineId": s.north.ID, "period": "2024-06"},
		{"machineId": s.south.ID, "period": "May 2024", "monoReading": 30},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[fleet.BatchResult](t, w)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Errored)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, "serialNumber", res.Errors[0].Field)
	assert.Equal(t, 5, res.Errors[1].Row)
	assert.Equal(t, "period", res.Errors[1].Field)
}

func TestSubmissions_LockAndUnlock(t *testing.T) {
	s := newServer(t, nil)
	capture := func(who *model.Actor, mono int) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPut, path("/machines/%d/readings/2024-07", s.north.ID), who, gin.H{"monoReading": mono, "colourReading": 0})
	}
	require.Equal(t, http.StatusCreated, capture(&clerk, 100).Code)

	w := s.do(t, http.MethodPost, "/api/submissions", &admin, gin.H{"year": 2024, "month": 7})
	assert.Equal(t, http.StatusConflict, w.Code, "the south machine is still pending")

	w = s.do(t, http.MethodPost, "/api/submissions", &clerk, gin.H{"year": 2024, "month": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sub := decode[model.Submission](t, w)
	assert.Equal(t, model.LockLocked, sub.State)
	assert.Equal(t, "north", sub.Branch)
	assert.Equal(t, "clerk", sub.SubmittedBy)

	w = capture(&clerk, 150)
	require.Equal(t, http.StatusLocked, w.Code)
	var locked struct {
		Year   int    `json:"year"`
		Month  int    `json:"month"`
		Branch string `json:"branch"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &locked))
	assert.Equal(t, 7, locked.Month)
	assert.Equal(t, "north", locked.Branch)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/api/submissions/2024-07?branch=north", &clerk, nil).Code)

	w = s.do(t, http.MethodDelete, "/api/submissions/2024-07?branch=north", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.LockOpen, decode[model.Submission](t, w).State)
	assert.Equal(t, http.StatusOK, capture(&clerk, 150).Code)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, "/api/submissions/2024-07?branch=north", &admin, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/readings?year=2024&month=7", &admin, nil).Code)
}

func TestExportMonth(t *testing.T) {
	s := newServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPut, path("/machines/%d/readings/2024-08", s.north.ID), &admin,
		gin.H{"monoReading": 1, "colourReading": 1}).Code)

	w := s.do(t, http.MethodGet, "/api/readings/export?year=2024&month=8&branch=north", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "readings-2024-08-north.xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}
