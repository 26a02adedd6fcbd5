package control

import (
	"EVote/config"
	"EVote/db"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Authenticator 令牌的签发与解析
type Authenticator interface {
	IssueVoterToken(voterID uint) (string, error)
	ResolveVoter(token string) (uint, error)
	IssueAdminToken(username string) (string, error)
	ResolveAdmin(token string) (string, error)
}

type Options struct {
	Store  *db.Store
	Auth   Authenticator
	Redis  *redis.Client               // 为 nil 时不启用锁与缓存
	Config func() *config.GlobalConfig // 每次使用时读取，支持热更新
	Logger *logrus.Logger
}

// Engine 组装选票、校验并提交、计票以及管理操作
type Engine struct {
	store  *db.Store
	auth   Authenticator
	conf   func() *config.GlobalConfig
	log    *logrus.Entry
	cache  *Cache
	locker *VoterLocker

	tallyGroup singleflight.Group
}

func NewEngine(opts Options) *Engine {
	if opts.Config == nil {
		opts.Config = config.Current
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	entry := opts.Logger.WithField("component", "engine")
	e := &Engine{
		store: opts.Store,
		auth:  opts.Auth,
		conf:  opts.Config,
		log:   entry,
	}
	if opts.Redis != nil {
		e.cache = &Cache{rdb: opts.Redis, conf: opts.Config, log: entry}
		e.locker = &VoterLocker{rdb: opts.Redis, conf: opts.Config, log: entry}
	}
	return e
}
