package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Profiles  ProfilesConfig  `mapstructure:"reader_profiles"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// ReaderConfig holds the module timing and link constants. These used to be
// global constants in the source tooling; here they are explicit immutable
// configuration so tests can run with alternate timings.
type ReaderConfig struct {
	Port           string        `mapstructure:"port"`
	BaudRate       int           `mapstructure:"baud_rate"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	RFPower        int           `mapstructure:"rf_power"`
	Profile        string        `mapstructure:"profile"`
}

type ProvisionConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	WriteRetries    int           `mapstructure:"write_retries"`
	LockTags        bool          `mapstructure:"lock_tags"`
	AccessPassword  string        `mapstructure:"access_password"` // 8 hex chars
	MultiPollRounds int           `mapstructure:"multi_poll_rounds"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("reader.baud_rate", 115200)
	viper.SetDefault("reader.settle_delay", "300ms")
	viper.SetDefault("reader.command_timeout", "1s")
	viper.SetDefault("reader.rf_power", 20)

	viper.SetDefault("provision.poll_interval", "150ms")
	viper.SetDefault("provision.idle_timeout", "2s")
	viper.SetDefault("provision.write_retries", 3)
	viper.SetDefault("provision.lock_tags", true)
	viper.SetDefault("provision.access_password", "00000000")
	viper.SetDefault("provision.multi_poll_rounds", 10000)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SVRC")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := config.Provision.AccessPasswordBytes(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// AccessPasswordBytes decodes the configured Gen2 access password. The
// default all-zero password means "unlocked".
func (p *ProvisionConfig) AccessPasswordBytes() ([4]byte, error) {
	var password [4]byte
	raw, err := hex.DecodeString(p.AccessPassword)
	if err != nil || len(raw) != 4 {
		return password, fmt.Errorf("access_password must be 8 hex chars, got %q", p.AccessPassword)
	}
	copy(password[:], raw)
	return password, nil
}
