package db

import (
	"fmt"
	"time"

	"EVote/config"
	"EVote/model"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open 按 driver 创建数据库连接并设置连接池
func Open(conf config.DbConf, log *logrus.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dialector, err := dialectorFor(conf)
	if err != nil {
		return nil, err
	}
	newLogger := logger.New(
		log, // gorm 日志写入 logrus
		logger.Config{
			SlowThreshold:             conf.SlowThreshold, // 慢SQL阈值
			LogLevel:                  logger.Warn,        // 日志级别
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", conf.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(conf.MaxIdleConn)                                        // 最大空闲连接
	sqlDB.SetMaxOpenConns(conf.MaxOpenConn)                                        // 最大打开连接
	sqlDB.SetConnMaxLifetime(time.Duration(conf.MaxIdleTime * int64(time.Second))) // 最大空闲时间（s）
	log.WithFields(logrus.Fields{"driver": conf.Driver, "max_open": conf.MaxOpenConn}).Info("database connected")
	return db, nil
}

func dialectorFor(conf config.DbConf) (gorm.Dialector, error) {
	dsn := conf.DSN
	switch conf.Driver {
	case "mysql", "":
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				conf.User, conf.Password, conf.Host, conf.Port, conf.Dbname)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				conf.Host, conf.Port, conf.User, conf.Password, conf.Dbname)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		if dsn == "" {
			// immediate 事务开始即拿写锁，先读后写的事务在竞争时等待而不是直接返回 SQLITE_BUSY
			dsn = conf.Dbname + ".db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", conf.Driver)
	}
}

// Migrate 自动建表，并写入唯一的状态行
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Position{},
		&model.Candidate{},
		&model.Voter{},
		&model.BallotReceipt{},
		&model.Vote{},
		&model.Title{},
		&model.ElectionState{},
	)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ElectionState{ID: stateID}).Error
}
