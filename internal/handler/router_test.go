package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loancore/internal/config"
	"loancore/internal/model"
	"loancore/pkg/response"
)

func testRouter(t *testing.T) (*gorm.DB, http.Handler) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "loancore_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Loan{},
		&model.RepaymentScheduleItem{},
		&model.Repayment{},
		&model.RepaymentAllocation{},
		&model.OutboxMessage{},
	))

	cfg := &config.Config{}
	cfg.Business.EditWindowHours = 24
	cfg.Kafka.Topic.LoanEvents = "loan_events"
	return db, SetupRouter(db, nil, cfg)
}

func doGet(t *testing.T, router http.Handler, path string) response.Response {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthRoute(t *testing.T) {
	_, router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	_, router := testRouter(t)

	resp := doGet(t, router, "/api/v1/no/such/route")
	assert.Equal(t, response.CodeNotFound, resp.Code)
}

func TestGetLoanByLoanNo(t *testing.T) {
	db, router := testRouter(t)

	loan := &model.Loan{
		LoanNo:        "LN20260901777",
		BorrowerID:    3,
		Principal:     decimal.RequireFromString("1000"),
		TermCount:     4,
		TermUnit:      model.TermUnitMonth,
		InterestRate:  decimal.Zero,
		StartDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Status:        model.LoanStatusActive,
		CreatedByUser: 1,
	}
	require.NoError(t, db.Create(loan).Error)

	resp := doGet(t, router, "/api/v1/loan/detail?loan_no=LN20260901777")
	assert.Equal(t, response.CodeSuccess, resp.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), "LN20260901777")

	// 不存在的贷款号走业务错误码
	resp = doGet(t, router, "/api/v1/loan/detail?loan_no=LN00000000000")
	assert.Equal(t, response.CodeLoanNotFound, resp.Code)
}
