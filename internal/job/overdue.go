package job

import (
	"context"
	"log"
	"time"

	"loancore/internal/config"
	"loancore/internal/repository"

	"gorm.io/gorm"
)

// OverdueMarkJob 逾期标记任务
// 定期扫描到期未还清的计划项，把 PENDING / PARTIAL 翻成 OVERDUE。
// 标记带前置状态校验，和并发的还款入账互不干扰：先还清的赢。
type OverdueMarkJob struct {
	db           *gorm.DB
	scheduleRepo *repository.ScheduleRepository
	cfg          *config.Config
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

func NewOverdueMarkJob(db *gorm.DB, cfg *config.Config) *OverdueMarkJob {
	interval := time.Duration(cfg.Business.OverdueScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &OverdueMarkJob{
		db:           db,
		scheduleRepo: repository.NewScheduleRepository(db),
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		interval:     interval,
		batchSize:    200,
	}
}

func (j *OverdueMarkJob) Start(ctx context.Context) {
	log.Println("[OverdueMarkJob] 逾期标记任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OverdueMarkJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[OverdueMarkJob] 任务停止")
			return
		case <-ticker.C:
			j.markOverdueItems(ctx)
		}
	}
}

func (j *OverdueMarkJob) Stop() {
	close(j.stopCh)
}

func (j *OverdueMarkJob) markOverdueItems(ctx context.Context) {
	items, err := j.scheduleRepo.ListDuePending(ctx, time.Now(), j.batchSize)
	if err != nil {
		log.Printf("[OverdueMarkJob] 查询到期计划项失败: %v", err)
		return
	}

	if len(items) == 0 {
		return
	}

	markedCount := 0
	for _, item := range items {
		if err := j.scheduleRepo.MarkOverdue(ctx, item.ID, item.Status); err != nil {
			log.Printf("[OverdueMarkJob] 标记逾期失败: itemID=%d, err=%v", item.ID, err)
			continue
		}
		markedCount++
	}

	if markedCount > 0 {
		log.Printf("[OverdueMarkJob] 本次标记 %d 期逾期", markedCount)
	}
}
