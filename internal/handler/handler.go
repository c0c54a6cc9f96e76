package handler

import (
	"errors"
	"strconv"
	"time"

	"loancore/internal/allocation"
	"loancore/internal/config"
	"loancore/internal/repository"
	"loancore/internal/schedule"
	"loancore/internal/service"
	"loancore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	loanService      *service.LoanService
	repaymentService *service.RepaymentService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		loanService:      service.NewLoanService(db, rdb, cfg),
		repaymentService: service.NewRepaymentService(db, rdb, cfg),
	}
}

// writeError 业务错误统一映射到错误码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrLoanNotFound):
		response.BusinessError(c, response.CodeLoanNotFound, err.Error())
	case errors.Is(err, repository.ErrRepaymentNotFound):
		response.BusinessError(c, response.CodeRepaymentNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrWindowExpired):
		response.BusinessError(c, response.CodeWindowExpired, err.Error())
	case errors.Is(err, allocation.ErrOverpayment):
		response.BusinessError(c, response.CodeOverpayment, err.Error())
	case errors.Is(err, allocation.ErrNegativePaid):
		response.BusinessError(c, response.CodeIntegrityFault, err.Error())
	case errors.Is(err, service.ErrLoanNotPayable),
		errors.Is(err, service.ErrLoanNotDeletable),
		errors.Is(err, service.ErrLoanNotDisbursable),
		errors.Is(err, repository.ErrLoanStatusInvalid):
		response.BusinessError(c, response.CodeIllegalState, err.Error())
	case errors.Is(err, allocation.ErrNonPositiveAmount),
		errors.Is(err, service.ErrInvalidMethod),
		errors.Is(err, service.ErrInvalidInitialStatus),
		errors.Is(err, schedule.ErrInvalidTermCount),
		errors.Is(err, schedule.ErrInvalidTermUnit),
		errors.Is(err, schedule.ErrInvalidPrincipal),
		errors.Is(err, schedule.ErrNegativeRate):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 贷款相关接口
// ============================================================

// CreateLoanRequest 创建贷款请求
type CreateLoanRequest struct {
	BorrowerID    int64  `json:"borrower_id" binding:"required"`
	Principal     string `json:"principal" binding:"required"`  // 金额用字符串传，避免浮点误差
	TermCount     int    `json:"term_count" binding:"required,gt=0"`
	TermUnit      string `json:"term_unit" binding:"required"` // DAY / WEEK / MONTH
	StartDate     string `json:"start_date" binding:"required"` // RFC3339 或 2006-01-02
	InterestRate  string `json:"interest_rate"`                 // 年化百分比，缺省 0
	InitialStatus string `json:"initial_status"`                // 缺省 DRAFT
	Notes         string `json:"notes"`
	CreatedByUser int64  `json:"created_by_user" binding:"required"`
}

// CreateLoan 创建贷款（同事务生成还款计划）
// POST /api/v1/loan/create
func (h *Handler) CreateLoan(c *gin.Context) {
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	principal, err := decimal.NewFromString(req.Principal)
	if err != nil {
		response.ParamError(c, "principal 不是合法金额")
		return
	}

	rate := decimal.Zero
	if req.InterestRate != "" {
		if rate, err = decimal.NewFromString(req.InterestRate); err != nil {
			response.ParamError(c, "interest_rate 不是合法数值")
			return
		}
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		response.ParamError(c, "start_date 格式错误")
		return
	}

	loan, err := h.loanService.CreateLoan(c.Request.Context(), &service.CreateLoanRequest{
		BorrowerID:    req.BorrowerID,
		Principal:     principal,
		TermCount:     req.TermCount,
		TermUnit:      req.TermUnit,
		StartDate:     startDate,
		InterestRate:  rate,
		InitialStatus: req.InitialStatus,
		Notes:         req.Notes,
		CreatedByUser: req.CreatedByUser,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, loan)
}

// GetLoan 查询贷款详情，支持按内部ID或贷款号查
// GET /api/v1/loan/detail?loan_id=xxx
// GET /api/v1/loan/detail?loan_no=LNxxx
func (h *Handler) GetLoan(c *gin.Context) {
	if loanNo := c.Query("loan_no"); loanNo != "" {
		loan, err := h.loanService.GetLoanByNo(c.Request.Context(), loanNo)
		if err != nil {
			writeError(c, err)
			return
		}
		response.Success(c, loan)
		return
	}

	loanID, ok := queryInt64(c, "loan_id")
	if !ok {
		return
	}

	loan, err := h.loanService.GetLoan(c.Request.Context(), loanID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, loan)
}

// ListLoans 查询贷款列表
// GET /api/v1/loan/list?borrower_id=xxx&status=ACTIVE&page=1&page_size=10
func (h *Handler) ListLoans(c *gin.Context) {
	borrowerID, _ := strconv.ParseInt(c.Query("borrower_id"), 10, 64)
	status := c.Query("status")
	page, pageSize := pagination(c)

	loans, total, err := h.loanService.ListLoans(c.Request.Context(), borrowerID, status, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      loans,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// TransitionLoanStatus 人工状态流转
// POST /api/v1/loan/status
func (h *Handler) TransitionLoanStatus(c *gin.Context) {
	var req struct {
		LoanID int64  `json:"loan_id" binding:"required"`
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	loan, err := h.loanService.TransitionStatus(c.Request.Context(), req.LoanID, req.Status, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, loan)
}

// DisburseLoan 放款
// POST /api/v1/loan/disburse
func (h *Handler) DisburseLoan(c *gin.Context) {
	var req struct {
		LoanID      int64  `json:"loan_id" binding:"required"`
		DisbursedAt string `json:"disbursed_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var disbursedAt *time.Time
	if req.DisbursedAt != "" {
		t, err := parseDate(req.DisbursedAt)
		if err != nil {
			response.ParamError(c, "disbursed_at 格式错误")
			return
		}
		disbursedAt = &t
	}

	loan, err := h.loanService.Disburse(c.Request.Context(), req.LoanID, disbursedAt)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, loan)
}

// DeleteLoan 删除贷款（仅草稿/待审批）
// POST /api/v1/loan/delete
func (h *Handler) DeleteLoan(c *gin.Context) {
	var req struct {
		LoanID int64 `json:"loan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.loanService.DeleteLoan(c.Request.Context(), req.LoanID); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "贷款已删除"})
}

// GetLoanSummary 还款概况
// GET /api/v1/loan/summary?loan_id=xxx
func (h *Handler) GetLoanSummary(c *gin.Context) {
	loanID, ok := queryInt64(c, "loan_id")
	if !ok {
		return
	}

	summary, err := h.loanService.GetSummary(c.Request.Context(), loanID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, summary)
}

// ============================================================
// 还款计划相关接口
// ============================================================

// GetLoanSchedule 单笔贷款的完整计划
// GET /api/v1/loan/schedule?loan_id=xxx
func (h *Handler) GetLoanSchedule(c *gin.Context) {
	loanID, ok := queryInt64(c, "loan_id")
	if !ok {
		return
	}

	items, err := h.loanService.GetSchedule(c.Request.Context(), loanID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, items)
}

// ListSchedules 跨贷款计划项列表（默认只含未还清的）
// GET /api/v1/schedule/list?loan_id=xxx&status=OVERDUE&page=1&page_size=10
func (h *Handler) ListSchedules(c *gin.Context) {
	loanID, _ := strconv.ParseInt(c.Query("loan_id"), 10, 64)
	status := c.Query("status")
	page, pageSize := pagination(c)

	items, total, err := h.loanService.ListSchedules(c.Request.Context(), loanID, status, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// RegenerateSchedule 重建还款计划（破坏性，删旧建新）
// POST /api/v1/loan/schedule/regenerate
func (h *Handler) RegenerateSchedule(c *gin.Context) {
	var req struct {
		LoanID int64 `json:"loan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	items, err := h.loanService.RegenerateSchedule(c.Request.Context(), req.LoanID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, items)
}

// BackfillSchedules 手动触发计划补偿（后台任务的同款逻辑）
// POST /api/v1/loan/schedule/backfill
func (h *Handler) BackfillSchedules(c *gin.Context) {
	generated, failed, err := h.loanService.GenerateMissingSchedules(c.Request.Context(), 200)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"generated": generated,
		"failed":    failed,
	})
}

// ============================================================
// 还款相关接口
// ============================================================

// RecordRepaymentRequest 还款入账请求
type RecordRepaymentRequest struct {
	RequestID        string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	LoanID           int64  `json:"loan_id" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	PaidAt           string `json:"paid_at"` // 缺省为当前时间
	Method           string `json:"method" binding:"required"`
	Reference        string `json:"reference"`
	Notes            string `json:"notes"`
	ReceivedByUserID int64  `json:"received_by_user_id" binding:"required"`
}

// RecordRepayment 还款入账
// POST /api/v1/repayment/record
func (h *Handler) RecordRepayment(c *gin.Context) {
	var req RecordRepaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ParamError(c, "amount 不是合法金额")
		return
	}

	var paidAt time.Time
	if req.PaidAt != "" {
		if paidAt, err = parseDate(req.PaidAt); err != nil {
			response.ParamError(c, "paid_at 格式错误")
			return
		}
	}

	result, err := h.repaymentService.Record(c.Request.Context(), &service.RecordRepaymentRequest{
		RequestID:        req.RequestID,
		LoanID:           req.LoanID,
		Amount:           amount,
		PaidAt:           paidAt,
		Method:           req.Method,
		Reference:        req.Reference,
		Notes:            req.Notes,
		ReceivedByUserID: req.ReceivedByUserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GetRepayment 还款详情（含分摊明细）
// GET /api/v1/repayment/detail?repayment_id=xxx
func (h *Handler) GetRepayment(c *gin.Context) {
	repaymentID, ok := queryInt64(c, "repayment_id")
	if !ok {
		return
	}

	repayment, allocations, err := h.repaymentService.GetRepayment(c.Request.Context(), repaymentID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"repayment":   repayment,
		"allocations": allocations,
	})
}

// ListRepayments 还款列表
// GET /api/v1/repayment/list?loan_id=xxx&method=CASH&date_from=...&date_to=...&page=1
func (h *Handler) ListRepayments(c *gin.Context) {
	filter := &repository.RepaymentFilter{
		Method: c.Query("method"),
	}
	filter.LoanID, _ = strconv.ParseInt(c.Query("loan_id"), 10, 64)

	if v := c.Query("date_from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			response.ParamError(c, "date_from 格式错误")
			return
		}
		filter.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			response.ParamError(c, "date_to 格式错误")
			return
		}
		filter.DateTo = &t
	}

	page, pageSize := pagination(c)
	repayments, total, err := h.repaymentService.ListRepayments(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      repayments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateRepayment 编辑窗口内修改非资金字段
// POST /api/v1/repayment/update
func (h *Handler) UpdateRepayment(c *gin.Context) {
	var req struct {
		RepaymentID int64  `json:"repayment_id" binding:"required"`
		Method      string `json:"method" binding:"required"`
		Reference   string `json:"reference"`
		Notes       string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	repayment, err := h.repaymentService.UpdateMeta(c.Request.Context(), req.RepaymentID, req.Method, req.Reference, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, repayment)
}

// ReverseRepayment 冲正还款
// POST /api/v1/repayment/reverse
//
// 【关键点】冲正是入账的镜像操作，同样要求：
// 分摊回退、计划项回写、贷款状态回退必须同事务，且持有贷款锁
func (h *Handler) ReverseRepayment(c *gin.Context) {
	var req struct {
		RepaymentID int64 `json:"repayment_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.repaymentService.Reverse(c.Request.Context(), req.RepaymentID); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "还款已冲正"})
}

// ============================================================
// 工具函数
// ============================================================

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
