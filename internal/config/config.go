package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// 链路模式
const (
	LinkModeSerial = "serial" // 本地串口
	LinkModeTCP    = "tcp"    // 主动连接串口服务器（ser2net 等）
	LinkModeListen = "listen" // 监听，等待串口服务器反向接入
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// LinkConfig 设备链路配置
type LinkConfig struct {
	Mode           string        `mapstructure:"mode"`
	Device         string        `mapstructure:"device"`
	Baud           int           `mapstructure:"baud"`
	Addr           string        `mapstructure:"addr"`
	DialTimeout    time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	ReplyTimeout   time.Duration `mapstructure:"replyTimeout"`
	ForceChecksum  bool          `mapstructure:"forceChecksum"`
	TxRate         int           `mapstructure:"txRate"`
	TxBurst        int           `mapstructure:"txBurst"`
	MaxConnections int           `mapstructure:"maxConnections"`
}

// HTTPConfig 控制台 HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	APIKeys      []string      `mapstructure:"apiKeys"` // 为空时下发接口不做认证
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// JournalConfig 收发帧记录
type JournalConfig struct {
	Backend  string `mapstructure:"backend"` // memory | redis
	Capacity int    `mapstructure:"capacity"`
	Key      string `mapstructure:"key"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Link    LinkConfig    `mapstructure:"link"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Journal JournalConfig `mapstructure:"journal"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

var ErrInvalidConfig = errors.New("invalid config")

// flagKeys 命令行参数名 -> 配置键
var flagKeys = map[string]string{
	"mode":      "link.mode",
	"device":    "link.device",
	"baud":      "link.baud",
	"addr":      "link.addr",
	"http":      "http.addr",
	"log-level": "logging.level",
	"journal":   "journal.backend",
}

// Load 从 YAML/TOML/JSON 文件、环境变量与命令行参数加载配置。
// 若 path 为空，则尝试从环境变量 BADGE_CONFIG 读取；否则回退到 ./configs/badgebus.yaml（可缺省）。
// flags 非空时，显式设置的参数（见 flagKeys）优先级最高。
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("BADGE_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("badgebus")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 BADGE_，并将点号替换为下划线
	v.SetEnvPrefix("BADGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// 允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	switch c.Link.Mode {
	case LinkModeSerial:
		if c.Link.Device == "" {
			return fmt.Errorf("%w: link.device is required in serial mode", ErrInvalidConfig)
		}
		if c.Link.Baud <= 0 {
			return fmt.Errorf("%w: link.baud must be positive", ErrInvalidConfig)
		}
	case LinkModeTCP, LinkModeListen:
		if c.Link.Addr == "" {
			return fmt.Errorf("%w: link.addr is required in %s mode", ErrInvalidConfig, c.Link.Mode)
		}
	default:
		return fmt.Errorf("%w: unknown link.mode %q", ErrInvalidConfig, c.Link.Mode)
	}
	switch c.Journal.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown journal.backend %q", ErrInvalidConfig, c.Journal.Backend)
	}
	if c.Journal.Capacity <= 0 {
		return fmt.Errorf("%w: journal.capacity must be positive", ErrInvalidConfig)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "badgebus")
	v.SetDefault("app.env", "dev")

	v.SetDefault("link.mode", LinkModeSerial)
	v.SetDefault("link.device", "/dev/ttyUSB0")
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.addr", "127.0.0.1:7000")
	v.SetDefault("link.dialTimeout", "5s")
	v.SetDefault("link.readTimeout", "0s")
	v.SetDefault("link.writeTimeout", "2s")
	v.SetDefault("link.replyTimeout", "2s")
	v.SetDefault("link.forceChecksum", true)
	v.SetDefault("link.txRate", 50)
	v.SetDefault("link.txBurst", 10)
	v.SetDefault("link.maxConnections", 16)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "logs/badgebus.log")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("journal.backend", "memory")
	v.SetDefault("journal.capacity", 500)
	v.SetDefault("journal.key", "badgebus:frames")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
}
