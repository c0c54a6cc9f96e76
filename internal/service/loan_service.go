package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loancore/internal/config"
	"loancore/internal/infrastructure/lock"
	"loancore/internal/model"
	"loancore/internal/repository"
	"loancore/internal/schedule"
	"loancore/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidTransition    = errors.New("不允许的状态流转")
	ErrInvalidInitialStatus = errors.New("初始状态只能是 DRAFT / PENDING_APPROVAL / ACTIVE")
	ErrLoanNotDeletable     = errors.New("只有草稿或待审批的贷款可以删除")
	ErrLoanNotDisbursable   = errors.New("只有已审批的贷款可以放款")
)

type LoanService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	loanRepo     *repository.LoanRepository
	scheduleRepo *repository.ScheduleRepository
	outboxRepo   *repository.OutboxRepository
}

func NewLoanService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LoanService {
	return &LoanService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		loanRepo:     repository.NewLoanRepository(db),
		scheduleRepo: repository.NewScheduleRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

type CreateLoanRequest struct {
	BorrowerID    int64
	Principal     decimal.Decimal
	TermCount     int
	TermUnit      string
	StartDate     time.Time
	InterestRate  decimal.Decimal
	InitialStatus string // 调用方已做过角色校验，这里只校验取值范围
	Notes         string
	CreatedByUser int64
}

// CreateLoan 创建贷款并在同一个事务里生成全部还款计划项。
// 计划生成失败则整单回滚，不允许出现"有贷款没计划"的中间态
// （补偿任务兜底处理历史脏数据，见 job.ScheduleBackfillJob）。
func (s *LoanService) CreateLoan(ctx context.Context, req *CreateLoanRequest) (*model.Loan, error) {
	if req.InitialStatus == "" {
		req.InitialStatus = model.LoanStatusDraft
	}
	switch req.InitialStatus {
	case model.LoanStatusDraft, model.LoanStatusPendingApproval, model.LoanStatusActive:
	default:
		return nil, ErrInvalidInitialStatus
	}

	// 条款先过一遍生成器的校验，再做任何写入
	drafts, err := schedule.Generate(req.Principal, req.TermCount, req.TermUnit, req.StartDate, req.InterestRate)
	if err != nil {
		return nil, err
	}

	loan := &model.Loan{
		LoanNo:        idgen.GenerateLoanNo(),
		BorrowerID:    req.BorrowerID,
		Principal:     req.Principal,
		TermCount:     req.TermCount,
		TermUnit:      req.TermUnit,
		InterestRate:  req.InterestRate,
		StartDate:     req.StartDate,
		EndDate:       schedule.EndDate(req.StartDate, req.TermCount, req.TermUnit),
		Status:        req.InitialStatus,
		Notes:         req.Notes,
		CreatedByUser: req.CreatedByUser,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.loanRepo.Create(ctx, tx, loan); err != nil {
			return fmt.Errorf("创建贷款失败: %w", err)
		}
		items := draftsToItems(loan.ID, drafts)
		if err := s.scheduleRepo.BatchCreate(ctx, tx, items); err != nil {
			return fmt.Errorf("生成还款计划失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[LoanService] 贷款创建成功: loanNo=%s, principal=%s, terms=%d%s",
		loan.LoanNo, loan.Principal.StringFixed(2), loan.TermCount, loan.TermUnit)
	return loan, nil
}

func draftsToItems(loanID int64, drafts []schedule.ItemDraft) []*model.RepaymentScheduleItem {
	items := make([]*model.RepaymentScheduleItem, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, &model.RepaymentScheduleItem{
			LoanID:       loanID,
			Sequence:     d.Sequence,
			DueDate:      d.DueDate,
			PrincipalDue: d.PrincipalDue,
			InterestDue:  d.InterestDue,
			FeeDue:       d.FeeDue,
			TotalDue:     d.TotalDue,
			PaidAmount:   decimal.Zero,
			Status:       model.ScheduleStatusPending,
		})
	}
	return items
}

func (s *LoanService) GetLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	return s.loanRepo.GetByID(ctx, loanID)
}

// GetLoanByNo 按贷款号查询，外部系统（对账、事件消费方）只有贷款号
func (s *LoanService) GetLoanByNo(ctx context.Context, loanNo string) (*model.Loan, error) {
	return s.loanRepo.GetByLoanNo(ctx, loanNo)
}

func (s *LoanService) ListLoans(ctx context.Context, borrowerID int64, status string, page, pageSize int) ([]*model.Loan, int64, error) {
	return s.loanRepo.List(ctx, borrowerID, status, page, pageSize)
}

func (s *LoanService) GetSchedule(ctx context.Context, loanID int64) ([]*model.RepaymentScheduleItem, error) {
	if _, err := s.loanRepo.GetByID(ctx, loanID); err != nil {
		return nil, err
	}
	return s.scheduleRepo.ListByLoanID(ctx, loanID)
}

// ListSchedules 跨贷款的计划项列表。默认排除 PAID——还清的期次属于
// 还款流水页，这里只展示还欠着的
func (s *LoanService) ListSchedules(ctx context.Context, loanID int64, status string, page, pageSize int) ([]*model.RepaymentScheduleItem, int64, error) {
	statuses := []string{
		model.ScheduleStatusPending,
		model.ScheduleStatusPartial,
		model.ScheduleStatusOverdue,
	}
	if status != "" {
		statuses = []string{status}
	}
	return s.scheduleRepo.ListByStatus(ctx, loanID, statuses, page, pageSize)
}

// TransitionStatus 人工状态流转，走流转表校验。
// 进入 APPROVED 附带置位手续费已收；进入终态写入 closedAt。
func (s *LoanService) TransitionStatus(ctx context.Context, loanID int64, targetStatus, notes string) (*model.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if !model.CanLoanTransitionTo(loan.Status, targetStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, loan.Status, targetStatus)
	}

	var closedAt *time.Time
	if model.IsTerminalLoanStatus(targetStatus) {
		now := time.Now()
		closedAt = &now
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.loanRepo.UpdateStatus(ctx, tx, loanID, loan.Status, targetStatus, closedAt); err != nil {
			return err
		}

		extra := map[string]interface{}{}
		if targetStatus == model.LoanStatusApproved {
			extra["fee_collected"] = true
		}
		if notes != "" {
			merged := notes
			if loan.Notes != "" {
				merged = loan.Notes + "\n\n" + notes
			}
			extra["notes"] = merged
		}
		if len(extra) > 0 {
			if err := s.loanRepo.Updates(ctx, tx, loanID, extra); err != nil {
				return err
			}
		}

		return s.writeStatusEvent(ctx, tx, loan, targetStatus)
	})
	if err != nil {
		return nil, err
	}

	return s.loanRepo.GetByID(ctx, loanID)
}

// Disburse 放款：APPROVED -> ACTIVE 并记录放款时间
func (s *LoanService) Disburse(ctx context.Context, loanID int64, disbursedAt *time.Time) (*model.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusApproved {
		return nil, ErrLoanNotDisbursable
	}

	at := time.Now()
	if disbursedAt != nil {
		at = *disbursedAt
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.loanRepo.UpdateStatus(ctx, tx, loanID, model.LoanStatusApproved, model.LoanStatusActive, nil); err != nil {
			return err
		}
		if err := s.loanRepo.Updates(ctx, tx, loanID, map[string]interface{}{"disbursed_at": &at}); err != nil {
			return err
		}
		return s.writeStatusEvent(ctx, tx, loan, model.LoanStatusActive)
	})
	if err != nil {
		return nil, err
	}

	return s.loanRepo.GetByID(ctx, loanID)
}

func (s *LoanService) DeleteLoan(ctx context.Context, loanID int64) error {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != model.LoanStatusDraft && loan.Status != model.LoanStatusPendingApproval {
		return ErrLoanNotDeletable
	}
	return s.loanRepo.SoftDelete(ctx, loanID)
}

// LoanSummary 贷款还款概况，全部由计划项聚合得出
type LoanSummary struct {
	LoanID               int64           `json:"loan_id"`
	LoanNo               string          `json:"loan_no"`
	Status               string          `json:"status"`
	Principal            decimal.Decimal `json:"principal"`
	TotalExpected        decimal.Decimal `json:"total_expected"`
	TotalPaid            decimal.Decimal `json:"total_paid"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
	OverdueAmount        decimal.Decimal `json:"overdue_amount"`
	OverdueCount         int             `json:"overdue_count"`
	CompletionPercentage decimal.Decimal `json:"completion_percentage"`
}

// GetSummary 只读聚合，没有中间写入时重复调用结果完全一致
func (s *LoanService) GetSummary(ctx context.Context, loanID int64) (*LoanSummary, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	items, err := s.scheduleRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	totalExpected := decimal.Zero
	totalPaid := decimal.Zero
	overdueAmount := decimal.Zero
	overdueCount := 0
	for _, item := range items {
		totalExpected = totalExpected.Add(item.TotalDue)
		totalPaid = totalPaid.Add(item.PaidAmount)
		if item.Status == model.ScheduleStatusOverdue {
			overdueAmount = overdueAmount.Add(item.Outstanding())
			overdueCount++
		}
	}

	completion := decimal.Zero
	if totalExpected.IsPositive() {
		completion = totalPaid.Div(totalExpected).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &LoanSummary{
		LoanID:               loan.ID,
		LoanNo:               loan.LoanNo,
		Status:               loan.Status,
		Principal:            loan.Principal,
		TotalExpected:        totalExpected,
		TotalPaid:            totalPaid,
		TotalOutstanding:     totalExpected.Sub(totalPaid),
		OverdueAmount:        overdueAmount,
		OverdueCount:         overdueCount,
		CompletionPercentage: completion,
	}, nil
}

// RegenerateSchedule 按贷款当前存储的条款重建计划：整批删掉旧计划项再生成。
//
// 【破坏性操作】旧计划项上的 paid_amount 随删除一起丢失，只对没有
// 还款记录或确认计划数据损坏的贷款执行。重建期间必须持有贷款锁，
// 防止有人在即将作废的计划项上分摊。
func (s *LoanService) RegenerateSchedule(ctx context.Context, loanID int64) ([]*model.RepaymentScheduleItem, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	loanLock := lock.NewLoanLock(s.redisClient, loanID, uuid.NewString())
	if err := loanLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer loanLock.Unlock(ctx)

	drafts, err := schedule.Generate(loan.Principal, loan.TermCount, loan.TermUnit, loan.StartDate, loan.InterestRate)
	if err != nil {
		return nil, err
	}

	var items []*model.RepaymentScheduleItem
	err = s.db.Transaction(func(tx *gorm.DB) error {
		deleted, err := s.scheduleRepo.DeleteByLoanID(ctx, tx, loanID)
		if err != nil {
			return fmt.Errorf("删除旧计划失败: %w", err)
		}
		items = draftsToItems(loanID, drafts)
		if err := s.scheduleRepo.BatchCreate(ctx, tx, items); err != nil {
			return fmt.Errorf("生成新计划失败: %w", err)
		}
		log.Printf("[LoanService] 计划重建完成: loanNo=%s, 删除 %d 期, 新建 %d 期",
			loan.LoanNo, deleted, len(items))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// GenerateMissingSchedules 给没有计划项的贷款补生成计划。
// 逐笔独立提交，一笔失败不影响其余贷款，可安全重复执行
// （有计划的贷款不会被再次选中）。
func (s *LoanService) GenerateMissingSchedules(ctx context.Context, limit int) (generated, failed int, err error) {
	loans, err := s.loanRepo.ListWithoutSchedule(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, loan := range loans {
		drafts, genErr := schedule.Generate(loan.Principal, loan.TermCount, loan.TermUnit, loan.StartDate, loan.InterestRate)
		if genErr == nil {
			genErr = s.scheduleRepo.BatchCreate(ctx, nil, draftsToItems(loan.ID, drafts))
		}
		if genErr != nil {
			failed++
			log.Printf("[LoanService] 补生成计划失败: loanNo=%s, err=%v", loan.LoanNo, genErr)
			continue
		}
		generated++
		log.Printf("[LoanService] 补生成计划成功: loanNo=%s, %d 期", loan.LoanNo, len(drafts))
	}
	return generated, failed, nil
}

// writeStatusEvent 状态变更事件进发件箱（与状态更新同事务）
func (s *LoanService) writeStatusEvent(ctx context.Context, tx *gorm.DB, loan *model.Loan, newStatus string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"event":       model.EventLoanStatusChanged,
		"loan_no":     loan.LoanNo,
		"from_status": loan.Status,
		"to_status":   newStatus,
		"changed_at":  time.Now().Format(time.RFC3339),
	})
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: loan.LoanNo,
		Topic:      s.cfg.Kafka.Topic.LoanEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
