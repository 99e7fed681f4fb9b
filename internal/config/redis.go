package config

// RedisConfig holds distributed state-store settings. When Enabled is false
// the gateway keeps all connection, channel, and rate-limit state in process
// memory; when true the same state is mirrored into Redis so several gateway
// instances can share it.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"ENABLED"    json:"enabled"`
	Host      string `mapstructure:"HOST"       json:"host"       validate:"omitempty,host"`
	Port      int    `mapstructure:"PORT"       json:"port"       validate:"omitempty,min=1,max=65535"`
	Password  string `mapstructure:"PASSWORD"   json:"-"`
	DB        int    `mapstructure:"DB"         json:"db"         validate:"min=0,max=15"`
	KeyPrefix string `mapstructure:"KEY_PREFIX" json:"key_prefix" validate:"omitempty,max=64"`
}
