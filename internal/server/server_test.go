package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/authorization"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/observability"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/report"
	scheduledomain "github.com/smallbiznis/stockopname/internal/schedule/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var (
	testBranch     = snowflake.ID(1)
	superAdminID   = snowflake.ID(100)
	branchAdminID  = snowflake.ID(200)
	employeeID     = snowflake.ID(300)
	inactiveUserID = snowflake.ID(999)
)

type fakeDirectory struct {
	staffdomain.Directory
	principals map[snowflake.ID]authorization.Principal
}

func (f *fakeDirectory) Principal(_ context.Context, id snowflake.ID) (authorization.Principal, error) {
	p, ok := f.principals[id]
	if !ok {
		return authorization.Principal{}, staffdomain.ErrStaffNotFound
	}
	return p, nil
}

type fakeAuthz struct {
	authorization.Service
	denied int
}

func (f *fakeAuthz) EvaluateBranch(_ context.Context, p authorization.Principal, branchID snowflake.ID) authorization.BranchCapabilities {
	admin := p.Role != authorization.RoleEmployee && p.InBranch(branchID)
	return authorization.BranchCapabilities{
		CanCreateSession:   admin,
		CanManageSchedules: admin,
		CanListStaff:       admin,
	}
}

func (f *fakeAuthz) Allowed(_ context.Context, p authorization.Principal, object, action string) bool {
	return p.IsSuperAdmin() && object == authorization.ObjectAuditLog && action == authorization.ActionAuditView
}

func (f *fakeAuthz) Denied(context.Context, authorization.Principal, string, string, *snowflake.ID) {
	f.denied++
}

type fakeOpname struct {
	opnamedomain.Service

	created     opnamedomain.CreateSessionRequest
	createErr   error
	scanErr     error
	lockErr     error
	resolveErr  error
	identifiers []string
	deletedScan snowflake.ID
}

func (f *fakeOpname) CreateSession(_ context.Context, p authorization.Principal, req opnamedomain.CreateSessionRequest) (opnamedomain.SessionView, error) {
	f.created = req
	if f.createErr != nil {
		return opnamedomain.SessionView{}, f.createErr
	}
	return opnamedomain.SessionView{Session: opnamedomain.Session{
		ID:          snowflake.ID(5000),
		BranchID:    req.BranchID,
		SessionType: req.Type,
		Status:      opnamedomain.SessionStatusDraft,
		CreatedBy:   p.StaffID,
	}}, nil
}

func (f *fakeOpname) Scan(_ context.Context, _ authorization.Principal, _ snowflake.ID, identifier string) (opnamedomain.ScanResponse, error) {
	if f.scanErr != nil {
		return opnamedomain.ScanResponse{}, f.scanErr
	}
	return opnamedomain.ScanResponse{
		Result: opnamedomain.ScanOutcomeMatch,
		Item:   opnamedomain.ScannedItem{IMEI: identifier},
	}, nil
}

func (f *fakeOpname) BatchScan(_ context.Context, _ authorization.Principal, _ snowflake.ID, identifiers []string) (opnamedomain.BatchScanResponse, error) {
	f.identifiers = identifiers
	var resp opnamedomain.BatchScanResponse
	for _, id := range identifiers {
		resp.Add(opnamedomain.BatchItemResult{Identifier: id, Result: opnamedomain.ScanOutcomeUnregistered})
	}
	return resp, nil
}

func (f *fakeOpname) DeleteScan(_ context.Context, _ authorization.Principal, _, scanID snowflake.ID) (opnamedomain.Counters, error) {
	f.deletedScan = scanID
	return opnamedomain.Counters{TotalExpected: 3}, nil
}

func (f *fakeOpname) Lock(context.Context, authorization.Principal, snowflake.ID) (opnamedomain.Session, error) {
	return opnamedomain.Session{}, f.lockErr
}

func (f *fakeOpname) ResolveSnapshotItem(_ context.Context, _ authorization.Principal, _, itemID snowflake.ID, req opnamedomain.ResolveSnapshotRequest) (opnamedomain.SnapshotItem, error) {
	if f.resolveErr != nil {
		return opnamedomain.SnapshotItem{}, f.resolveErr
	}
	action := string(req.Action)
	return opnamedomain.SnapshotItem{ID: itemID, ScanResult: opnamedomain.ScanResultMissing, ActionTaken: &action}, nil
}

type fakeExporter struct {
	sessionID snowflake.ID
}

func (f *fakeExporter) ExportSession(_ context.Context, _ authorization.Principal, sessionID snowflake.ID, w io.Writer) (string, error) {
	f.sessionID = sessionID
	_, err := w.Write([]byte("PK-workbook"))
	return "opname-JKT-2026-03-02-opening.xlsx", err
}

type fakeSchedules struct {
	scheduledomain.Service
	created scheduledomain.CreateScheduleRequest
}

func (f *fakeSchedules) Create(_ context.Context, _ authorization.Principal, req scheduledomain.CreateScheduleRequest) (scheduledomain.Schedule, error) {
	f.created = req
	return scheduledomain.Schedule{ID: snowflake.ID(77), BranchID: req.BranchID, Type: req.Type, StartTime: req.StartTime}, nil
}

type fakeNotifications struct {
	notificationdomain.Service
	unreadOnly bool
}

func (f *fakeNotifications) Inbox(_ context.Context, _ authorization.Principal, req notificationdomain.InboxRequest) (notificationdomain.InboxResponse, error) {
	f.unreadOnly = req.UnreadOnly
	return notificationdomain.InboxResponse{Notifications: []notificationdomain.Notification{}}, nil
}

type fakeAudit struct {
	auditdomain.Service
	listed *auditdomain.ListAuditLogRequest
}

func (f *fakeAudit) List(_ context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	f.listed = &req
	return auditdomain.ListAuditLogResponse{AuditLogs: []auditdomain.AuditLog{}}, nil
}

type testServer struct {
	engine        *gin.Engine
	authz         *fakeAuthz
	opname        *fakeOpname
	exporter      *fakeExporter
	schedules     *fakeSchedules
	notifications *fakeNotifications
	audit         *fakeAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	branch := testBranch
	ts := &testServer{
		engine:        NewEngine(observability.Config{Environment: "test"}, nil),
		authz:         &fakeAuthz{},
		opname:        &fakeOpname{},
		exporter:      &fakeExporter{},
		schedules:     &fakeSchedules{},
		notifications: &fakeNotifications{},
		audit:         &fakeAudit{},
	}
	NewServer(ServerParams{
		Gin:    ts.engine,
		Tokens: NewTokenVerifier(testSecret, ""),
		Staff: &fakeDirectory{principals: map[snowflake.ID]authorization.Principal{
			superAdminID:  {StaffID: superAdminID, Role: authorization.RoleSuperAdmin, Name: "Sari"},
			branchAdminID: {StaffID: branchAdminID, Role: authorization.RoleAdminBranch, BranchID: &branch, Name: "Budi"},
			employeeID:    {StaffID: employeeID, Role: authorization.RoleEmployee, BranchID: &branch, Name: "Eka"},
		}},
		AuthzSvc:        ts.authz,
		AuditSvc:        ts.audit,
		OpnameSvc:       ts.opname,
		ScheduleSvc:     ts.schedules,
		NotificationSvc: ts.notifications,
		Exporter:        ts.exporter,
	})
	return ts
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func tokenFor(t *testing.T, staffID snowflake.ID) string {
	return signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   staffID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Type    string            `json:"type"`
		Code    string            `json:"code"`
		Errors  []ValidationError `json:"errors"`
		Details map[string]any    `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRejectsMissingAndInvalidTokens(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", signToken(t, "other", jwt.RegisteredClaims{Subject: employeeID.String()})},
		{"expired", signToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   employeeID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
		{"non numeric subject", signToken(t, testSecret, jwt.RegisteredClaims{Subject: "alice"})},
		{"unknown staff", tokenFor(t, inactiveUserID)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/api/v1/me", tc.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, errorTypeUnauth, decodeError(t, w).Error.Type)
		})
	}
}

func TestTokenVerifierChecksIssuer(t *testing.T) {
	v := NewTokenVerifier(testSecret, "https://id.example")

	_, err := v.StaffID(signToken(t, testSecret, jwt.RegisteredClaims{Subject: "300", Issuer: "https://other"}))
	assert.Error(t, err)

	id, err := v.StaffID(signToken(t, testSecret, jwt.RegisteredClaims{Subject: "300", Issuer: "https://id.example"}))
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(300), id)
}

func TestMeReturnsPrincipalWithBranchCapabilities(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/me", tokenFor(t, branchAdminID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Role               string                           `json:"role"`
			BranchCapabilities authorization.BranchCapabilities `json:"branch_capabilities"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "admin_branch", resp.Data.Role)
	assert.True(t, resp.Data.BranchCapabilities.CanCreateSession)
}

func TestCreateSessionPassesRequestThrough(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions", tokenFor(t, branchAdminID), map[string]any{
		"branch_id":    "1",
		"type":         " Opening ",
		"started_at":   "2026-03-02T09:00:00+07:00",
		"assignee_ids": []string{"300"},
		"notes":        "morning count",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := ts.opname.created
	assert.Equal(t, testBranch, got.BranchID)
	assert.Equal(t, opnamedomain.SessionTypeOpening, got.Type)
	assert.Equal(t, []snowflake.ID{employeeID}, got.AssigneeIDs)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), *got.StartedAt)
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)
	token := tokenFor(t, branchAdminID)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions", token, map[string]any{"type": "opening"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeError(t, w)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "branch_id", env.Error.Errors[0].Field)
	assert.Equal(t, "required", env.Error.Errors[0].Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sessions", token, map[string]any{"branch_id": "x", "type": "opening"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "branch_id", decodeError(t, w).Error.Errors[0].Field)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"daily cap", opnamedomain.ErrDailyLimitExceeded, http.StatusUnprocessableEntity, errorTypePolicy},
		{"duplicate type", opnamedomain.ErrDuplicateSessionType, http.StatusConflict, errorTypeConflict},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, errorTypeForbidden},
		{"no assignees", opnamedomain.ErrNoAssigneesSelected, http.StatusBadRequest, errorTypeValidation},
		{"session missing", opnamedomain.ErrSessionNotFound, http.StatusNotFound, errorTypeNotFound},
		{"unit changed", opnamedomain.ErrUnitStatusChanged, http.StatusConflict, errorTypeState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.opname.createErr = tc.err

			w := ts.do(t, http.MethodPost, "/api/v1/sessions", tokenFor(t, branchAdminID), map[string]any{
				"branch_id": "1", "type": "opening", "assignee_ids": []string{"300"},
			})
			assert.Equal(t, tc.status, w.Code)
			env := decodeError(t, w)
			assert.Equal(t, tc.kind, env.Error.Type)
			assert.Equal(t, tc.err.Error(), env.Error.Code)
		})
	}
}

func TestLockReportsUnresolvedCounts(t *testing.T) {
	ts := newTestServer(t)
	ts.opname.lockErr = opnamedomain.WithDetail(opnamedomain.ErrUnresolvedDiscrepancies, map[string]any{
		"missing_unresolved":      2,
		"unregistered_unresolved": 1,
	})

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/5000/lock", tokenFor(t, superAdminID), nil)
	require.Equal(t, http.StatusConflict, w.Code)

	env := decodeError(t, w)
	assert.Equal(t, errorTypeState, env.Error.Type)
	assert.Equal(t, "unresolved_discrepancies", env.Error.Code)
	assert.Equal(t, float64(2), env.Error.Details["missing_unresolved"])
	assert.Equal(t, float64(1), env.Error.Details["unregistered_unresolved"])
}

func TestResolveReportsUnitSoldElsewhere(t *testing.T) {
	ts := newTestServer(t)
	ts.opname.resolveErr = &opnamedomain.DetailError{
		Err:    opnamedomain.ErrUnitStatusChanged,
		Field:  "unit_id",
		Value:  "10002",
		Detail: map[string]any{"unit_status": "sold", "sold_channel": "pos"},
	}

	w := ts.do(t, http.MethodPut, "/api/v1/sessions/5000/snapshot/77/resolution", tokenFor(t, branchAdminID), map[string]any{"action": "available"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	env := decodeError(t, w)
	assert.Equal(t, errorTypeState, env.Error.Type)
	assert.Equal(t, "unit_status_changed", env.Error.Code)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "unit_id", env.Error.Errors[0].Field)
	assert.Equal(t, "10002", env.Error.Details["unit_id"])
	assert.Equal(t, "sold", env.Error.Details["unit_status"])
	assert.Equal(t, "pos", env.Error.Details["sold_channel"])
}

func TestScanInvalidIdentifierNamesTheField(t *testing.T) {
	ts := newTestServer(t)
	ts.opname.scanErr = opnamedomain.WithField(opnamedomain.ErrInvalidIdentifier, "identifier", "12ab")

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/5000/scans", tokenFor(t, employeeID), map[string]any{"identifier": "12ab"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	env := decodeError(t, w)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "identifier", env.Error.Errors[0].Field)
	assert.Equal(t, "invalid_identifier", env.Error.Errors[0].Code)
	assert.Equal(t, "12ab", env.Error.Details["identifier"])
}

func TestBatchScanAndUndo(t *testing.T) {
	ts := newTestServer(t)
	token := tokenFor(t, employeeID)

	w := ts.do(t, http.MethodPost, "/api/v1/sessions/5000/scans/batch", token, map[string]any{
		"identifiers": []string{"356789012345671", "356789012345672"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"356789012345671", "356789012345672"}, ts.opname.identifiers)

	var resp struct {
		Data opnamedomain.BatchScanResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Summary.Unregistered)

	w = ts.do(t, http.MethodDelete, "/api/v1/sessions/5000/scans/42", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, snowflake.ID(42), ts.opname.deletedScan)
}

func TestMalformedPathID(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/sessions/abc", tokenFor(t, superAdminID), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "id", decodeError(t, w).Error.Errors[0].Field)
}

func TestExportStreamsWorkbook(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/sessions/5000/export", tokenFor(t, superAdminID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "opname-JKT-2026-03-02-opening.xlsx")
	assert.Equal(t, "PK-workbook", w.Body.String())
	assert.Equal(t, snowflake.ID(5000), ts.exporter.sessionID)
}

func TestCreateScheduleBindsBranchFromPath(t *testing.T) {
	ts := newTestServer(t)
	token := tokenFor(t, branchAdminID)

	w := ts.do(t, http.MethodPost, "/api/v1/branches/1/schedules", token, map[string]any{
		"type":         "closing",
		"start_time":   "21:30",
		"days_of_week": []int{1, 2, 3},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, testBranch, ts.schedules.created.BranchID)
	assert.Equal(t, opnamedomain.SessionTypeClosing, ts.schedules.created.Type)

	w = ts.do(t, http.MethodPost, "/api/v1/branches/1/schedules", token, map[string]any{
		"type":         "closing",
		"start_time":   "21:30",
		"days_of_week": []int{9},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeError(t, w)
	require.NotEmpty(t, env.Error.Errors)
	assert.Equal(t, "lte", env.Error.Errors[0].Code)
}

func TestNotificationsUnreadFilter(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/notifications?unread_only=true", tokenFor(t, employeeID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.notifications.unreadOnly)

	w = ts.do(t, http.MethodGet, "/api/v1/notifications?unread_only=maybe", tokenFor(t, employeeID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditLogsRequireSuperAdmin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/audit-logs", tokenFor(t, employeeID), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, ts.authz.denied)
	assert.Nil(t, ts.audit.listed)

	w = ts.do(t, http.MethodGet, "/api/v1/audit-logs?branch_id=1&action=opname.session.locked", tokenFor(t, superAdminID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, ts.audit.listed)
	require.NotNil(t, ts.audit.listed.BranchID)
	assert.Equal(t, testBranch, *ts.audit.listed.BranchID)
	assert.Equal(t, "opname.session.locked", ts.audit.listed.Action)
}
