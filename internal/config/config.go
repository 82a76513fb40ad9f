package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	CAS      CASConfig      `mapstructure:"cas"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
	Loc       string `mapstructure:"loc"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CASConfig CAS 协议配置
type CASConfig struct {
	// ST/PT 为一次性短期票据，PGT 为长期票据
	STExpiry        time.Duration `mapstructure:"st_expiry"`
	PTExpiry        time.Duration `mapstructure:"pt_expiry"`
	PGTExpiry       time.Duration `mapstructure:"pgt_expiry"`
	SessionExpiry   time.Duration `mapstructure:"session_expiry"`
	DefaultService  string        `mapstructure:"default_service"`
	AllowedServices []string      `mapstructure:"allowed_services"`
	FollowLogoutURL bool          `mapstructure:"follow_logout_url"`
	// StateSecret 用于签名联合登录 state 令牌
	StateSecret     string        `mapstructure:"state_secret"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`
}

// OAuthConfig 第三方登录配置
type OAuthConfig struct {
	// EmailDomain 为无邮箱的第三方账号合成邮箱时使用的后缀，如 @example.org
	EmailDomain string                    `mapstructure:"email_domain"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 单个第三方登录提供方配置
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 支持环境变量覆盖
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromFile 从指定路径加载配置（测试用）
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults() {
	// 服务器默认配置
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")

	// 数据库默认配置
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "postgres")
	viper.SetDefault("database.postgres.password", "")
	viper.SetDefault("database.postgres.dbname", "cas_server")
	viper.SetDefault("database.postgres.sslmode", "disable")

	// Redis 默认配置
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// CAS 默认配置
	viper.SetDefault("cas.st_expiry", "5m")
	viper.SetDefault("cas.pt_expiry", "5m")
	viper.SetDefault("cas.pgt_expiry", "8h")
	viper.SetDefault("cas.session_expiry", "8h")
	viper.SetDefault("cas.default_service", "")
	viper.SetDefault("cas.allowed_services", []string{})
	viper.SetDefault("cas.follow_logout_url", true)
	viper.SetDefault("cas.state_secret", "")
	viper.SetDefault("cas.callback_timeout", "5s")

	// 第三方登录默认配置
	viper.SetDefault("oauth.email_domain", "")
}
