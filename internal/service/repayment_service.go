package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loancore/internal/allocation"
	"loancore/internal/config"
	"loancore/internal/infrastructure/lock"
	"loancore/internal/model"
	"loancore/internal/repository"
	"loancore/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrLoanNotPayable = errors.New("只有生效或已审批的贷款可以还款")
	ErrWindowExpired  = errors.New("已超出 24 小时编辑窗口")
	ErrInvalidMethod  = errors.New("还款方式不合法")
)

type RepaymentService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	loanRepo       *repository.LoanRepository
	scheduleRepo   *repository.ScheduleRepository
	repaymentRepo  *repository.RepaymentRepository
	allocationRepo *repository.AllocationRepository
	outboxRepo     *repository.OutboxRepository
}

func NewRepaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RepaymentService {
	return &RepaymentService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		loanRepo:       repository.NewLoanRepository(db),
		scheduleRepo:   repository.NewScheduleRepository(db),
		repaymentRepo:  repository.NewRepaymentRepository(db),
		allocationRepo: repository.NewAllocationRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

type RecordRepaymentRequest struct {
	RequestID        string
	LoanID           int64
	Amount           decimal.Decimal
	PaidAt           time.Time
	Method           string
	Reference        string
	Notes            string
	ReceivedByUserID int64
}

type RecordRepaymentResult struct {
	Repayment   *model.Repayment             `json:"repayment"`
	Allocations []*model.RepaymentAllocation `json:"allocations"`
	LoanStatus  string                       `json:"loan_status"`
}

// Record 记录一笔还款并做瀑布分摊。
//
// 【关键点】这是整个系统最核心的写路径，必须保证：
//  1. 幂等性：相同 request_id 只入账一次
//  2. 原子性：还款记录、分摊记录、计划项回写、贷款结清判定同事务
//  3. 并发安全：贷款锁串行化同一贷款上的分摊
func (s *RepaymentService) Record(ctx context.Context, req *RecordRepaymentRequest) (*RecordRepaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, allocation.ErrNonPositiveAmount
	}
	if !model.IsValidRepaymentMethod(req.Method) {
		return nil, ErrInvalidMethod
	}
	if req.PaidAt.IsZero() {
		req.PaidAt = time.Now()
	}

	// 幂等校验
	if existing, err := s.repaymentRepo.GetByRequestID(ctx, req.RequestID); err != nil {
		return nil, fmt.Errorf("幂等查询失败: %w", err)
	} else if existing != nil {
		return s.resultFor(ctx, existing)
	}

	loanLock := lock.NewLoanLock(s.redisClient, req.LoanID, req.RequestID)
	if err := loanLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer loanLock.Unlock(ctx)

	// 获取锁后再查一次，挡住拿锁前挤进来的重复请求
	if existing, err := s.repaymentRepo.GetByRequestID(ctx, req.RequestID); err != nil {
		return nil, err
	} else if existing != nil {
		return s.resultFor(ctx, existing)
	}

	loan, err := s.loanRepo.GetByID(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusActive && loan.Status != model.LoanStatusApproved {
		return nil, ErrLoanNotPayable
	}

	repayment := &model.Repayment{
		RepaymentNo:      idgen.GenerateRepaymentNo(),
		RequestID:        req.RequestID,
		LoanID:           req.LoanID,
		Amount:           req.Amount,
		PaidAt:           req.PaidAt,
		Method:           req.Method,
		Reference:        req.Reference,
		Notes:            req.Notes,
		ReceivedByUserID: req.ReceivedByUserID,
	}

	var entries []*model.RepaymentAllocation
	finalStatus := loan.Status

	err = s.db.Transaction(func(tx *gorm.DB) error {
		items, err := s.scheduleRepo.ListOutstandingForUpdate(ctx, tx, req.LoanID)
		if err != nil {
			return fmt.Errorf("读取计划项失败: %w", err)
		}

		plan, err := allocation.Build(items, req.Amount, time.Now())
		if err != nil {
			return err
		}

		if err := s.repaymentRepo.Create(ctx, tx, repayment); err != nil {
			return fmt.Errorf("创建还款记录失败: %w", err)
		}

		entries = make([]*model.RepaymentAllocation, 0, len(plan.Entries))
		for _, e := range plan.Entries {
			entries = append(entries, &model.RepaymentAllocation{
				RepaymentID:    repayment.ID,
				ScheduleItemID: e.ScheduleItemID,
				Amount:         e.Amount,
			})
		}
		if err := s.allocationRepo.BatchCreate(ctx, tx, entries); err != nil {
			return fmt.Errorf("创建分摊记录失败: %w", err)
		}

		for _, u := range plan.Updates {
			if err := s.scheduleRepo.ApplyUpdate(ctx, tx, &model.RepaymentScheduleItem{
				ID:         u.ScheduleItemID,
				PaidAmount: u.PaidAmount,
				Status:     u.Status,
				ClosedAt:   u.ClosedAt,
			}); err != nil {
				return fmt.Errorf("回写计划项失败: %w", err)
			}
		}

		// 结清判定：分摊之后未还期数归零则贷款自动结清
		finalStatus, err = s.deriveAndApplyStatus(ctx, tx, loan)
		if err != nil {
			return err
		}

		return s.writeRepaymentEvent(ctx, tx, loan, repayment, model.EventRepaymentRecorded)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[RepaymentService] 还款入账: repaymentNo=%s, loanNo=%s, amount=%s, 分摊 %d 期",
		repayment.RepaymentNo, loan.LoanNo, req.Amount.StringFixed(2), len(entries))

	return &RecordRepaymentResult{
		Repayment:   repayment,
		Allocations: entries,
		LoanStatus:  finalStatus,
	}, nil
}

// Reverse 冲正一笔还款：按分摊记录逐项回退计划项，软删还款。
// 只允许在创建后的编辑窗口（默认 24 小时）内执行。
func (s *RepaymentService) Reverse(ctx context.Context, repaymentID int64) error {
	repayment, err := s.repaymentRepo.GetByID(ctx, repaymentID)
	if err != nil {
		return err
	}
	if err := s.checkEditWindow(repayment); err != nil {
		return err
	}

	loanLock := lock.NewLoanLock(s.redisClient, repayment.LoanID, uuid.NewString())
	if err := loanLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer loanLock.Unlock(ctx)

	// 拿锁后重查重校验：防并发双重冲正（软删后再查直接 NotFound），
	// 排队等锁期间也可能恰好跨过编辑窗口边界
	repayment, err = s.repaymentRepo.GetByID(ctx, repaymentID)
	if err != nil {
		return err
	}
	if err := s.checkEditWindow(repayment); err != nil {
		return err
	}

	var loan *model.Loan
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 贷款行必须在持锁后、事务内重新读：并发入账可能刚把贷款
		// 推成 COMPLETED，用锁前的快照推导状态会漏掉结清回退
		var err error
		loan, err = s.loanRepo.GetByIDForUpdate(ctx, tx, repayment.LoanID)
		if err != nil {
			return err
		}

		entries, err := s.allocationRepo.ListByRepaymentID(ctx, repaymentID)
		if err != nil {
			return fmt.Errorf("读取分摊记录失败: %w", err)
		}

		itemIDs := make([]int64, 0, len(entries))
		for _, e := range entries {
			itemIDs = append(itemIDs, e.ScheduleItemID)
		}

		itemsByID := map[int64]*model.RepaymentScheduleItem{}
		if len(itemIDs) > 0 {
			items, err := s.scheduleRepo.ListByIDsForUpdate(ctx, tx, itemIDs)
			if err != nil {
				return fmt.Errorf("读取计划项失败: %w", err)
			}
			for _, item := range items {
				itemsByID[item.ID] = item
			}
		}

		updates, err := allocation.Reverse(itemsByID, entries)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := s.scheduleRepo.ApplyUpdate(ctx, tx, &model.RepaymentScheduleItem{
				ID:         u.ScheduleItemID,
				PaidAmount: u.PaidAmount,
				Status:     u.Status,
				ClosedAt:   u.ClosedAt,
			}); err != nil {
				return fmt.Errorf("回退计划项失败: %w", err)
			}
		}

		if err := s.allocationRepo.DeleteByRepaymentID(ctx, tx, repaymentID); err != nil {
			return fmt.Errorf("删除分摊记录失败: %w", err)
		}
		if err := s.repaymentRepo.SoftDelete(ctx, tx, repaymentID); err != nil {
			return err
		}

		// 冲正可能把已结清的贷款拉回 ACTIVE
		if _, err := s.deriveAndApplyStatus(ctx, tx, loan); err != nil {
			return err
		}

		return s.writeRepaymentEvent(ctx, tx, loan, repayment, model.EventRepaymentReversed)
	})
	if err != nil {
		return err
	}

	log.Printf("[RepaymentService] 还款已冲正: repaymentNo=%s, loanNo=%s, amount=%s",
		repayment.RepaymentNo, loan.LoanNo, repayment.Amount.StringFixed(2))
	return nil
}

// UpdateMeta 编辑窗口内修改非资金字段。金额与所属贷款不可变，
// 改金额必须冲正后重新入账。
func (s *RepaymentService) UpdateMeta(ctx context.Context, repaymentID int64, method, reference, notes string) (*model.Repayment, error) {
	repayment, err := s.repaymentRepo.GetByID(ctx, repaymentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEditWindow(repayment); err != nil {
		return nil, err
	}
	if !model.IsValidRepaymentMethod(method) {
		return nil, ErrInvalidMethod
	}

	if err := s.repaymentRepo.UpdateMeta(ctx, repaymentID, method, reference, notes); err != nil {
		return nil, err
	}
	return s.repaymentRepo.GetByID(ctx, repaymentID)
}

func (s *RepaymentService) GetRepayment(ctx context.Context, repaymentID int64) (*model.Repayment, []*model.RepaymentAllocation, error) {
	repayment, err := s.repaymentRepo.GetByID(ctx, repaymentID)
	if err != nil {
		return nil, nil, err
	}
	allocations, err := s.allocationRepo.ListByRepaymentID(ctx, repaymentID)
	if err != nil {
		return nil, nil, err
	}
	return repayment, allocations, nil
}

func (s *RepaymentService) ListRepayments(ctx context.Context, filter *repository.RepaymentFilter, page, pageSize int) ([]*model.Repayment, int64, error) {
	return s.repaymentRepo.List(ctx, filter, page, pageSize)
}

func (s *RepaymentService) checkEditWindow(repayment *model.Repayment) error {
	window := time.Duration(s.cfg.Business.EditWindowHours) * time.Hour
	if time.Since(repayment.CreatedAt) > window {
		return ErrWindowExpired
	}
	return nil
}

// deriveAndApplyStatus 分摊/冲正后的状态推导，见 lifecycle.go
func (s *RepaymentService) deriveAndApplyStatus(ctx context.Context, tx *gorm.DB, loan *model.Loan) (string, error) {
	unpaid, err := s.scheduleRepo.CountUnpaid(ctx, tx, loan.ID)
	if err != nil {
		return "", fmt.Errorf("统计未还期数失败: %w", err)
	}

	newStatus, changed := deriveLoanStatus(loan.Status, unpaid)
	if !changed {
		return loan.Status, nil
	}

	var closedAt *time.Time
	if newStatus == model.LoanStatusCompleted {
		now := time.Now()
		closedAt = &now
	}
	if err := s.loanRepo.Updates(ctx, tx, loan.ID, map[string]interface{}{
		"status":    newStatus,
		"closed_at": closedAt,
	}); err != nil {
		return "", fmt.Errorf("更新贷款状态失败: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event":       model.EventLoanStatusChanged,
		"loan_no":     loan.LoanNo,
		"from_status": loan.Status,
		"to_status":   newStatus,
		"changed_at":  time.Now().Format(time.RFC3339),
	})
	if err := s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: loan.LoanNo,
		Topic:      s.cfg.Kafka.Topic.LoanEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}); err != nil {
		return "", err
	}

	log.Printf("[RepaymentService] 贷款状态推导: loanNo=%s, %s -> %s", loan.LoanNo, loan.Status, newStatus)
	return newStatus, nil
}

func (s *RepaymentService) writeRepaymentEvent(ctx context.Context, tx *gorm.DB, loan *model.Loan, repayment *model.Repayment, event string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"event":        event,
		"loan_no":      loan.LoanNo,
		"repayment_no": repayment.RepaymentNo,
		"amount":       repayment.Amount.StringFixed(2),
		"method":       repayment.Method,
		"paid_at":      repayment.PaidAt.Format(time.RFC3339),
	})
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: loan.LoanNo,
		Topic:      s.cfg.Kafka.Topic.LoanEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// resultFor 幂等命中时按已有记录拼装返回
func (s *RepaymentService) resultFor(ctx context.Context, repayment *model.Repayment) (*RecordRepaymentResult, error) {
	allocations, err := s.allocationRepo.ListByRepaymentID(ctx, repayment.ID)
	if err != nil {
		return nil, err
	}
	loan, err := s.loanRepo.GetByID(ctx, repayment.LoanID)
	if err != nil {
		return nil, err
	}
	return &RecordRepaymentResult{
		Repayment:   repayment,
		Allocations: allocations,
		LoanStatus:  loan.Status,
	}, nil
}
