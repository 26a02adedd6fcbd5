// Package testutil 为各包测试提供内存数据库、miniredis 和基础数据
package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"EVote/config"
	"EVote/db"
	"EVote/model"
	"EVote/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	Secret        = "test-secret"
	AdminUser     = "commissioner"
	AdminPassword = "s3cret-admin"
)

// Logger 丢弃输出的 logger
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewDB 每次调用都是一个独立的内存 sqlite。
// 只有一个连接，事务天然串行。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	return open(t, config.DbConf{
		Driver:      "sqlite",
		DSN:         "file::memory:?_pragma=foreign_keys(1)",
		MaxIdleConn: 1,
		MaxOpenConn: 1,
	})
}

func NewStore(t *testing.T) *db.Store {
	t.Helper()
	return db.NewStore(NewDB(t))
}

// NewFileStore 临时目录中的 sqlite 文件，使用默认 DSN，连接池有 conns 个连接，事务之间真正并发
func NewFileStore(t *testing.T, conns int) *db.Store {
	t.Helper()
	return db.NewStore(open(t, config.DbConf{
		Driver:      "sqlite",
		Dbname:      filepath.Join(t.TempDir(), "evote"),
		MaxIdleConn: conns,
		MaxOpenConn: conns,
	}))
}

func open(t *testing.T, conf config.DbConf) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(conf, Logger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// NewRedis 启动 miniredis，测试结束自动关闭
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// Config 默认配置加上测试用密钥和管理员
func Config(t *testing.T) *config.GlobalConfig {
	t.Helper()
	c := config.Defaults()
	c.DbConfig.Driver = "sqlite"
	c.Auth.Secret = Secret
	hash, err := bcrypt.GenerateFromPassword([]byte(AdminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	c.Auth.Admins = []config.AdminConf{{Username: AdminUser, PasswordHash: string(hash)}}
	return &c
}

func Tokens(c *config.GlobalConfig) *utils.TokenManager {
	return utils.NewTokenManager(c.Auth.Secret, c.Auth.TokenTTL)
}

func SeedPosition(t *testing.T, s *db.Store, description string, maxVote, priority int) model.Position {
	t.Helper()
	p := model.Position{Description: description, MaxVote: maxVote, Priority: priority}
	require.NoError(t, s.CreatePosition(context.Background(), &p))
	return p
}

func SeedCandidate(t *testing.T, s *db.Store, positionID uint, firstname, lastname string, approved bool) model.Candidate {
	t.Helper()
	c := model.Candidate{
		PositionID:    positionID,
		CandidateCode: utils.GenerateCandidateCode(),
		Firstname:     firstname,
		Lastname:      lastname,
		IsApproved:    approved,
	}
	require.NoError(t, s.CreateCandidate(context.Background(), &c))
	return c
}

func SeedVoter(t *testing.T, s *db.Store, votersID, password string) model.Voter {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	v := model.Voter{
		VotersID:       votersID,
		PasswordHash:   string(hash),
		Firstname:      "Voter",
		Lastname:       votersID,
		IdentityType:   "aadhaar",
		IdentityNumber: "ID-" + votersID,
	}
	require.NoError(t, s.CreateVoter(context.Background(), &v))
	return v
}
