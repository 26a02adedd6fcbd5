package control

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"EVote/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	keyTallyPrefix = "evote:tally:" // 后缀是数据库推导的版本
	keyVotedPrefix = "evote:voted:" // 后缀是 reset_gen 和投票人 id
	keyLockPrefix  = "evote:lock:voter:"
)

// 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

// VoterLocker 同一投票人的提交在多个实例间串行。
// 数据库唯一索引才是最终保证，redis 不可用时直接放行。
type VoterLocker struct {
	rdb  *redis.Client
	conf func() *config.GlobalConfig
	log  *logrus.Entry
}

// Acquire 返回释放函数；超时或 redis 出错时返回空操作
func (l *VoterLocker) Acquire(ctx context.Context, voterID uint) func() {
	noop := func() {}
	if l == nil || l.rdb == nil {
		return noop
	}
	conf := l.conf().RedisConfig
	lockKey := fmt.Sprintf("%s%d", keyLockPrefix, voterID)
	lockVal := uuid.NewString() // 标识锁的持有者
	fields := logrus.Fields{"voter_id": voterID}

	deadline := time.Now().Add(conf.LockWait)
	for {
		locked, err := l.rdb.SetNX(ctx, lockKey, lockVal, conf.LockTTL).Result()
		if err != nil {
			l.log.WithFields(fields).WithError(err).Warn("voter lock unavailable, continuing without it")
			return noop
		}
		if locked {
			return func() {
				// 提交的 ctx 可能已取消，释放锁使用独立的 ctx
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, l.rdb, []string{lockKey}, lockVal).Err(); err != nil {
					l.log.WithFields(fields).WithError(err).Warn("failed to release voter lock")
				}
			}
		}
		if time.Now().After(deadline) {
			l.log.WithFields(fields).Warn("voter lock wait exceeded, continuing without it")
			return noop
		}
		// 随机间隔减少锁竞争
		select {
		case <-ctx.Done():
			return noop
		case <-time.After(time.Duration(rand.Intn(40)+10) * time.Millisecond):
		}
	}
}

// Cache 计票结果与已投票标记的缓存，所有错误只记录日志。
// 键中的版本都来自数据库，redis 写失败只会造成未命中，不会返回过期数据。
type Cache struct {
	rdb  *redis.Client
	conf func() *config.GlobalConfig
	log  *logrus.Entry
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *Cache) GetTally(ctx context.Context, version string) (*TallyResult, bool) {
	if !c.enabled() {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, keyTallyPrefix+version).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("read tally cache failed")
		}
		return nil, false
	}
	var t TallyResult
	if err := json.Unmarshal(raw, &t); err != nil {
		c.log.WithError(err).Warn("decode tally cache failed")
		return nil, false
	}
	return &t, true
}

func (c *Cache) PutTally(ctx context.Context, version string, t *TallyResult) {
	if !c.enabled() {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		c.log.WithError(err).Warn("encode tally cache failed")
		return
	}
	ttl := c.conf().RedisConfig.TallyTTL
	if err := c.rdb.Set(ctx, keyTallyPrefix+version, raw, ttl).Err(); err != nil {
		c.log.WithError(err).Warn("write tally cache failed")
	}
}

// Voted 只缓存肯定的结果，false 表示需要查询数据库
func (c *Cache) Voted(ctx context.Context, resetGen int64, voterID uint) bool {
	if !c.enabled() {
		return false
	}
	n, err := c.rdb.Exists(ctx, votedKey(resetGen, voterID)).Result()
	if err != nil {
		c.log.WithError(err).WithField("voter_id", voterID).Warn("read voted marker failed")
		return false
	}
	return n > 0
}

// MarkVoted resetGen 必须读自写入回执的同一事务或更早
func (c *Cache) MarkVoted(ctx context.Context, resetGen int64, voterID uint) {
	if !c.enabled() {
		return
	}
	ttl := c.conf().RedisConfig.VotedTTL
	if err := c.rdb.Set(ctx, votedKey(resetGen, voterID), 1, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("voter_id", voterID).Warn("write voted marker failed")
	}
}

func votedKey(gen int64, voterID uint) string {
	return fmt.Sprintf("%s%d:%d", keyVotedPrefix, gen, voterID)
}
