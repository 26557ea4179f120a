package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error
	operator      string
	tokenTTL      time.Duration

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(ctx context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(ctx context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}
func (m *mockAuth) Operator(token string) (string, error) {
	return m.operator, m.parseErr
}
func (m *mockAuth) TokenTTL() time.Duration { return m.tokenTTL }

type mockAutomation struct {
	startErr    error
	stopErr     error
	status      models.AutomationStatus
	overrideRes models.OverrideResult
	overrideErr error
	approveRes  models.Decision
	approveErr  error

	startCalled    int
	stopCalled     int
	lastSafetyMode *bool
	lastOverride   models.OverrideRequest
	lastApproveID  string
	lastApproveBy  string
}

func (m *mockAutomation) Start(ctx context.Context) error {
	m.startCalled++
	return m.startErr
}
func (m *mockAutomation) Stop(ctx context.Context) error {
	m.stopCalled++
	return m.stopErr
}
func (m *mockAutomation) Status(ctx context.Context) models.AutomationStatus {
	return m.status
}
func (m *mockAutomation) SetSafetyMode(ctx context.Context, on bool) {
	m.lastSafetyMode = &on
}
func (m *mockAutomation) ManualOverride(ctx context.Context, req models.OverrideRequest) (models.OverrideResult, error) {
	m.lastOverride = req
	return m.overrideRes, m.overrideErr
}
func (m *mockAutomation) Approve(ctx context.Context, reservoirID, operator string) (models.Decision, error) {
	m.lastApproveID = reservoirID
	m.lastApproveBy = operator
	return m.approveRes, m.approveErr
}

type mockMonitoring struct {
	reservoirs []models.Reservoir
	reading    models.Reading
	readingErr error
	history    []models.Reading
	historyErr error
	lastWindow time.Duration
	report     service.LearningReport
	reportErr  error
}

func (m *mockMonitoring) Reservoirs() []models.Reservoir { return m.reservoirs }

func (m *mockMonitoring) Reading(ctx context.Context, reservoirID string) (models.Reading, error) {
	return m.reading, m.readingErr
}
func (m *mockMonitoring) History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error) {
	m.lastWindow = window
	return m.history, m.historyErr
}
func (m *mockMonitoring) Learning(reservoirID string) (service.LearningReport, error) {
	return m.report, m.reportErr
}

type mockEventLog struct {
	resp       []models.Event
	err        error
	lastFilter service.LogFilter

	mu   sync.Mutex
	feed chan models.Event
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.Event, error) {
	m.lastFilter = f
	return m.resp, m.err
}
func (m *mockEventLog) Subscribe(buffer int) (<-chan models.Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feed == nil {
		m.feed = make(chan models.Event, buffer)
	}
	return m.feed, func() {}
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
