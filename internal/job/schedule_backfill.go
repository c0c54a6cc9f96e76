package job

import (
	"context"
	"log"
	"time"

	"loancore/internal/config"
	"loancore/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ScheduleBackfillJob 计划补偿任务
// 兜底修复"有贷款没计划"的脏数据（历史导入、早期版本计划生成失败等）。
// 逐笔生成互相独立，失败的下一轮重试；已有计划的贷款不会被再次选中，
// 重复执行安全。
type ScheduleBackfillJob struct {
	db          *gorm.DB
	loanService *service.LoanService
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewScheduleBackfillJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ScheduleBackfillJob {
	interval := time.Duration(cfg.Business.BackfillIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ScheduleBackfillJob{
		db:          db,
		loanService: service.NewLoanService(db, redisClient, cfg),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   50,
	}
}

func (j *ScheduleBackfillJob) Start(ctx context.Context) {
	log.Println("[ScheduleBackfillJob] 计划补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ScheduleBackfillJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ScheduleBackfillJob] 任务停止")
			return
		case <-ticker.C:
			j.backfill(ctx)
		}
	}
}

func (j *ScheduleBackfillJob) Stop() {
	close(j.stopCh)
}

func (j *ScheduleBackfillJob) backfill(ctx context.Context) {
	generated, failed, err := j.loanService.GenerateMissingSchedules(ctx, j.batchSize)
	if err != nil {
		log.Printf("[ScheduleBackfillJob] 扫描缺计划贷款失败: %v", err)
		return
	}
	if generated > 0 || failed > 0 {
		log.Printf("[ScheduleBackfillJob] 本轮补偿: 成功 %d, 失败 %d", generated, failed)
	}
}
