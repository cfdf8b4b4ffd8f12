package db

import (
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"server-commission-app/config"
	"server-commission-app/internal/model"
)

var (
	MysqlCli *gorm.DB
)

func Init() {
	connMysql()
	if err := Migrate(MysqlCli); err != nil {
		log.Error("Migrate mysql error: ", err)
		panic(err)
	}
}

func connMysql() {
	var err error
	mysqlCfg := config.MySql
	dsn := DSN(mysqlCfg.User, mysqlCfg.Password, mysqlCfg.Host, mysqlCfg.Database, mysqlCfg.Charset)
	MysqlCli, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Error("Connect mysql error: ", err, " Connect host: ", mysqlCfg.Host)
		panic(err)
	}

	sqlDB, err := MysqlCli.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxIdleConns(mysqlCfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(mysqlCfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	log.Infof("conn mysql %s/%s success", mysqlCfg.Host, mysqlCfg.Database)
}

// DSN builds the driver dsn, parseTime is required for the time columns.
func DSN(user, password, host, database, charset string) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if charset != "" {
		cfg.Params = map[string]string{"charset": charset}
	}
	return cfg.FormatDSN()
}

// Migrate creates or updates the tables of every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}
