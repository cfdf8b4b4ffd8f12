package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var confPath string

func init() {
	flag.StringVar(&confPath, "conf", "configs/", "default config path")
}

var (
	Server     server
	MySql      mysql
	Commission commission
	Reconcile  reconcile
	Log        logging
)

// Server 配置
type server struct {
	Env       string `yaml:"env"`
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	SignKey   string `yaml:"sign_key"`   // 管理接口及入账事件签名密钥
	NotifyURL string `yaml:"notify_url"` // 等级变更通知回调, 为空时仅记录日志
}

type mysql struct {
	Host         string `yaml:"host"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	Charset      string `yaml:"charset"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TierRates level rates in percent.
type TierRates struct {
	Level1 float64 `yaml:"level1"`
	Level2 float64 `yaml:"level2"`
	Level3 float64 `yaml:"level3"`
}

// Thresholds inclusive lower bounds of cumulative personal deposit per tier.
type Thresholds struct {
	Silver   float64 `yaml:"silver"`
	Gold     float64 `yaml:"gold"`
	Platinum float64 `yaml:"platinum"`
}

// Commission 返佣相关配置
type commission struct {
	Rates                map[string]TierRates `yaml:"rates"`
	Thresholds           Thresholds           `yaml:"thresholds"`
	MaxTotalPercent      float64              `yaml:"max_total_percent"`
	MaxLevels            int                  `yaml:"max_levels"`
	LegacyWindow         time.Duration        `yaml:"legacy_window"`
	PersonalDepositKinds []string             `yaml:"personal_deposit_kinds"`
	RelationBackend      string               `yaml:"relation_backend"` // mysql | dgraph
	DgraphAddr           string               `yaml:"dgraph_addr"`
	DgraphTimeout        time.Duration        `yaml:"dgraph_timeout"`
}

// Reconcile 对账相关配置
type reconcile struct {
	Schedule     string        `yaml:"schedule"`
	PageSize     int           `yaml:"page_size"`
	MaxPages     int           `yaml:"max_pages"`
	Concurrency  int           `yaml:"concurrency"`
	Epsilon      float64       `yaml:"epsilon"`
	PendingGrace time.Duration `yaml:"pending_grace"`
	Backfill     bool          `yaml:"backfill"`
}

type logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Init() {
	if err := Load(confPath); err != nil {
		panic(fmt.Errorf("Fatal error config file: %s \n", err))
	}
}

// Load reads every section from dir. server and mysql are required, the rest
// fall back to defaults.
func Load(dir string) error {
	setDefaults()
	sections := []struct {
		name     string
		out      interface{}
		required bool
	}{
		{"server", &Server, true},
		{"mysql", &MySql, true},
		{"commission", &Commission, false},
		{"reconcile", &Reconcile, false},
		{"log", &Log, false},
	}
	for _, s := range sections {
		if err := unmarshal(dir, s.name, s.out, s.required); err != nil {
			return err
		}
	}
	return nil
}

func unmarshal(dir, name string, out interface{}, required bool) error {
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath(dir)
	err := v.ReadInConfig() // Find and read the config file
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && !required {
			return nil
		}
		return fmt.Errorf("read %s config: %v", name, err)
	}

	err = v.Unmarshal(out, func(config *mapstructure.DecoderConfig) {
		config.TagName = "yaml"
	})
	if err != nil {
		return fmt.Errorf("unmarshal %s config: %v", name, err)
	}
	return nil
}

func setDefaults() {
	Server = server{Env: "dev", Host: "0.0.0.0", Port: "8080"}
	MySql = mysql{Charset: "utf8mb4", MaxIdleConns: 10, MaxOpenConns: 50}
	Commission = DefaultCommission()
	Reconcile = DefaultReconcile()
	Log = logging{Level: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 7, MaxAgeDays: 30}
}

// DefaultCommission current policy: bronze 10/5/5 up to platinum 40/5/5.
func DefaultCommission() commission {
	return commission{
		Rates: map[string]TierRates{
			"bronze":   {Level1: 10, Level2: 5, Level3: 5},
			"silver":   {Level1: 20, Level2: 5, Level3: 5},
			"gold":     {Level1: 30, Level2: 5, Level3: 5},
			"platinum": {Level1: 40, Level2: 5, Level3: 5},
		},
		Thresholds:           Thresholds{Silver: 1000, Gold: 2000, Platinum: 10000},
		MaxTotalPercent:      100,
		MaxLevels:            3,
		LegacyWindow:         10 * time.Minute,
		PersonalDepositKinds: []string{"gas_fee_topup"},
		RelationBackend:      "mysql",
		DgraphTimeout:        10 * time.Second,
	}
}

func DefaultReconcile() reconcile {
	return reconcile{
		Schedule:     "0 */30 * * * *",
		PageSize:     500,
		MaxPages:     20,
		Concurrency:  8,
		Epsilon:      0.01,
		PendingGrace: 10 * time.Minute,
	}
}
