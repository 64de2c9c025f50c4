package server

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"qpackd/internal/logging"
)

// MaxTableCapacityLimit bounds the table capacity a session may request.
const MaxTableCapacityLimit = 1 << 20

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type QPACKConfig struct {
	MaxTableCapacity  uint64 `yaml:"max_table_capacity"`
	MaxBlockedStreams uint64 `yaml:"max_blocked_streams"`
	StrictHeaders     bool   `yaml:"strict_headers"`
}

type SessionsConfig struct {
	TTL int `yaml:"ttl"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	QPACK    QPACKConfig    `yaml:"qpack"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logger   LoggerConfig   `yaml:"logger"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port is not set")
	}
	if c.QPACK.MaxTableCapacity > MaxTableCapacityLimit {
		return fmt.Errorf("qpack max table capacity %d exceeds %d", c.QPACK.MaxTableCapacity, MaxTableCapacityLimit)
	}
	if c.Sessions.TTL <= 0 {
		return errors.New("sessions ttl is not set")
	}
	if c.Logger.Level == "" {
		return errors.New("logger level is not set")
	}
	if _, err := logging.ParseLevel(c.Logger.Level); err != nil {
		return err
	}
	if c.Logger.File == "" {
		return errors.New("logger file is not set")
	}
	return nil
}

func (c *Config) Addr() string {
	host := c.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func LoadConfig(configFileName string) (*Config, error) {
	data, err := os.ReadFile(configFileName)
	if err != nil {
		return nil, err
	}

	return ParseConfig(data)
}
