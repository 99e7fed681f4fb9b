package config

import "time"

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	ListenAddr string `mapstructure:"LISTEN_ADDR" json:"listen_addr" validate:"required,listenaddr"`
	PublicURL  string `mapstructure:"PUBLIC_URL"  json:"public_url"  validate:"omitempty,url"`
}

// GatewayConfig holds connection-lifecycle and throttling settings.
type GatewayConfig struct {
	ConnectionTimeout time.Duration    `mapstructure:"CONNECTION_TIMEOUT" json:"connection_timeout" validate:"required,reasonable_duration"`
	HeartbeatInterval time.Duration    `mapstructure:"HEARTBEAT_INTERVAL" json:"heartbeat_interval" validate:"required,timeout_duration"`
	MaxConnections    int              `mapstructure:"MAX_CONNECTIONS"    json:"max_connections"    validate:"required,min=1,max=100000"`
	MaxFrameBytes     int              `mapstructure:"MAX_FRAME_BYTES"    json:"max_frame_bytes"    validate:"required,min=256,max=1048576"`
	AuthRequired      bool             `mapstructure:"AUTH_REQUIRED"      json:"auth_required"`
	Throttling        ThrottlingConfig `mapstructure:"THROTTLING"         json:"throttling"         validate:"required"`
}

// ThrottlingConfig holds the per-connection message-rate window.
type ThrottlingConfig struct {
	MaxMessages int           `mapstructure:"MAX_MESSAGES" json:"max_messages" validate:"required,min=1,max=100000"`
	Window      time.Duration `mapstructure:"WINDOW"       json:"window"       validate:"required,timeout_duration"`
}
