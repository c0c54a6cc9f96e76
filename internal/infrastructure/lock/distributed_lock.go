package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么按贷款维度加锁？】
//
// 瀑布分摊是"先读计划项、再逐项回写"，两次针对同一贷款的分摊交错执行
// 会把同一笔未还余额摊两次。计划重建也一样：重建过程中不能有人在旧计划
// 上继续分摊。所以入账、冲正、重建计划三类操作都必须先拿到该贷款的锁。
// 不同贷款互不相干，可以并发。
//
// 【Redis 锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥；EX 防止持有者崩溃后死锁
//   - value 为持有者令牌，释放时校验，防止误删别人的锁
// 释放：Lua 脚本保证"校验+删除"原子执行
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 持有者令牌
	expiration time.Duration // 锁的过期时间
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 先校验 value 是自己的再删除，避免把过期后被别人拿走的锁删掉
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewLoanLock 创建贷款互斥锁（按贷款维度）
// token 用调用方的请求标识或随机 uuid，便于追踪持有者
func NewLoanLock(client *redis.Client, loanID int64, token string) *DistributedLock {
	key := fmt.Sprintf("loan:lock:%d", loanID)
	return NewDistributedLock(client, key, token, 30*time.Second)
}
