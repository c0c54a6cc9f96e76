package handler

import (
	"loancore/internal/config"
	"loancore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 贷款相关
		loan := api.Group("/loan")
		{
			loan.POST("/create", h.CreateLoan)
			loan.GET("/detail", h.GetLoan)
			loan.GET("/list", h.ListLoans)
			loan.POST("/status", h.TransitionLoanStatus)
			loan.POST("/disburse", h.DisburseLoan)
			loan.POST("/delete", h.DeleteLoan)
			loan.GET("/summary", h.GetLoanSummary)
			loan.GET("/schedule", h.GetLoanSchedule)
			loan.POST("/schedule/regenerate", h.RegenerateSchedule)
			loan.POST("/schedule/backfill", h.BackfillSchedules)
		}

		// 计划项相关
		sched := api.Group("/schedule")
		{
			sched.GET("/list", h.ListSchedules)
		}

		// 还款相关
		repayment := api.Group("/repayment")
		{
			repayment.POST("/record", h.RecordRepayment)
			repayment.GET("/detail", h.GetRepayment)
			repayment.GET("/list", h.ListRepayments)
			repayment.POST("/update", h.UpdateRepayment)
			repayment.POST("/reverse", h.ReverseRepayment)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 未注册路径统一走响应信封，不吐 gin 默认 404 页
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})

	return r
}
