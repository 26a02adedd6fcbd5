package config

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	debounceDuration = 1 * time.Second // 配置更新防抖动
	envPrefix        = "EVOTE"

	DefaultElectionTitle = "Secure Aadhaar-Based E-Voting System"
)

var current atomic.Pointer[GlobalConfig] // 当前生效的配置快照，只读

type GlobalConfig struct {
	Server      ServerConf   `yaml:"server" mapstructure:"server"`     // 服务监听配置
	DbConfig    DbConf       `yaml:"db" mapstructure:"db"`             // 数据库配置
	RedisConfig RedisConf    `yaml:"redis" mapstructure:"redis"`       // redis 配置
	Election    ElectionConf `yaml:"election" mapstructure:"election"` // 选举相关配置
	Auth        AuthConf     `yaml:"auth" mapstructure:"auth"`         // 令牌与管理员
	Log         LogConf      `yaml:"log" mapstructure:"log"`           // 日志
}

type ServerConf struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	PprofAddr       string        `yaml:"pprof_addr" mapstructure:"pprof_addr"` // 为空则不启动 pprof
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type DbConf struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"`                 // mysql / postgres / sqlite
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`                       // 不为空时直接使用
	Host          string        `yaml:"host" mapstructure:"host"`                     // 主机地址
	Port          string        `yaml:"port" mapstructure:"port"`                     // 端口号
	User          string        `yaml:"user" mapstructure:"user"`                     // 用户名
	Password      string        `yaml:"password" mapstructure:"password"`             // 密码
	Dbname        string        `yaml:"dbname" mapstructure:"dbname"`                 // 数据库名
	MaxIdleConn   int           `yaml:"max_idle_conn" mapstructure:"max_idle_conn"`   // 最大空闲连接数
	MaxOpenConn   int           `yaml:"max_open_conn" mapstructure:"max_open_conn"`   // 最大打开连接数
	MaxIdleTime   int64         `yaml:"max_idle_time" mapstructure:"max_idle_time"`   // 连接最大空闲时间(s)
	SlowThreshold time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"` // 慢SQL阈值
}

// RedisConf 配置，Host 为空时不启用 redis
type RedisConf struct {
	Host     string        `yaml:"rhost" mapstructure:"rhost"`       // db主机地址
	Port     int           `yaml:"rport" mapstructure:"rport"`       // db端口
	DB       int           `yaml:"rdb" mapstructure:"rdb"`           // 数据库
	PassWord string        `yaml:"passwd" mapstructure:"passwd"`     // 密码
	PoolSize int           `yaml:"poolsize" mapstructure:"poolsize"` // 连接池大小，即最大连接数
	TallyTTL time.Duration `yaml:"tally_ttl" mapstructure:"tally_ttl"`
	VotedTTL time.Duration `yaml:"voted_ttl" mapstructure:"voted_ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`   // 投票人锁的过期时间
	LockWait time.Duration `yaml:"lock_wait" mapstructure:"lock_wait"` // 获取锁的最长等待时间
}

func (r RedisConf) Enabled() bool {
	return r.Host != ""
}

type ElectionConf struct {
	DefaultTitle string `yaml:"default_title" mapstructure:"default_title"` // 未配置标题时使用
}

type AuthConf struct {
	Secret   string        `yaml:"secret" mapstructure:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	Admins   []AdminConf   `yaml:"admins" mapstructure:"admins"`
}

type AdminConf struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"` // bcrypt
}

type LogConf struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Current 返回当前配置快照；未加载时返回默认值
func Current() *GlobalConfig {
	if c := current.Load(); c != nil {
		return c
	}
	c := Defaults()
	return &c
}

// Defaults 返回全部默认配置
func Defaults() GlobalConfig {
	v := viper.New()
	setDefaults(v)
	var c GlobalConfig
	_ = v.Unmarshal(&c)
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.pprof_addr", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.max_idle_conn", 10)
	v.SetDefault("db.max_open_conn", 50)
	v.SetDefault("db.max_idle_time", 300)
	v.SetDefault("db.slow_threshold", 2*time.Second)
	v.SetDefault("redis.rport", 6379)
	v.SetDefault("redis.poolsize", 20)
	v.SetDefault("redis.tally_ttl", 30*time.Second)
	v.SetDefault("redis.voted_ttl", 24*time.Hour)
	v.SetDefault("redis.lock_ttl", 5*time.Second)
	v.SetDefault("redis.lock_wait", 2*time.Second)
	v.SetDefault("election.default_title", DefaultElectionTitle)
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("log.level", "info")
}

// Loader 读取配置文件并在文件变化时刷新快照
type Loader struct {
	v *viper.Viper

	mu                  sync.Mutex
	updateDebounceTimer *time.Timer
}

// NewLoader file 为空时按 ".", "./config", "../config" 查找 config.yml
func NewLoader(file string) *Loader {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// Load 读取配置并替换当前快照
func (l *Loader) Load() (*GlobalConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	current.Store(c)
	log.WithFields(log.Fields{
		"file":   l.v.ConfigFileUsed(),
		"driver": c.DbConfig.Driver,
		"redis":  c.RedisConfig.Enabled(),
	}).Info("config loaded")
	return c, nil
}

func (l *Loader) unmarshal() (*GlobalConfig, error) {
	var c GlobalConfig
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config file unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Watch 监听配置文件的变化；解析失败时保留旧快照
func (l *Loader) Watch(onChange func(*GlobalConfig)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.updateDebounceTimer != nil {
			l.updateDebounceTimer.Stop()
		}
		l.updateDebounceTimer = time.AfterFunc(debounceDuration, func() {
			c, err := l.unmarshal()
			if err != nil {
				log.WithError(err).WithField("file", e.Name).Warn("config reload rejected")
				return
			}
			current.Store(c)
			log.WithField("file", e.Name).Info("config reloaded")
			if onChange != nil {
				onChange(c)
			}
		})
	})
	l.v.WatchConfig()
}

// Validate 检查必填项
func (c *GlobalConfig) Validate() error {
	switch c.DbConfig.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DbConfig.Driver)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	for _, a := range c.Auth.Admins {
		if a.Username == "" || a.PasswordHash == "" {
			return fmt.Errorf("auth.admins entries need username and password_hash")
		}
	}
	return nil
}

// SetCurrent 直接替换快照，测试与嵌入场景使用
func SetCurrent(c *GlobalConfig) {
	current.Store(c)
}
