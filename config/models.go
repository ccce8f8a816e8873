package config

import "time"

type AuthConfig struct {
	Secret    string `mapstructure:"secret" validate:"required"`
	ExpiryMin int    `mapstructure:"expiry_min" validate:"gt=0"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns"`
	MinIdleConns    int32         `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
}

type SweeperConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" validate:"gt=0"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" validate:"gt=0"`
}

type Config struct {
	Env         string         `mapstructure:"env"`
	ServiceName string         `mapstructure:"service_name"`
	Port        int            `mapstructure:"port"`
	BaseURL     string         `mapstructure:"base_url"`
	AdminKey    string         `mapstructure:"admin_key" validate:"required"`
	DB          *DBConfig      `mapstructure:"db" validate:"required"`
	Auth        *AuthConfig    `mapstructure:"auth" validate:"required"`
	Sweeper     *SweeperConfig `mapstructure:"sweeper" validate:"required"`
}
