package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "livecast/pkg/config"
)

type Config struct {
	Server    ServerConfig
	Admin     AdminConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Engine    EngineConfig
	Room      RoomConfig
	Limits    LimitsConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// AdminConfig configures the diagnostics HTTP surface.
type AdminConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// EngineConfig configures the forwarding-engine worker pool.
type EngineConfig struct {
	// WorkerCount is the number of forwarding workers. 0 means one per CPU.
	WorkerCount int             `mapstructure:"worker_count"`
	ListenIP    string          `mapstructure:"listen_ip"`
	AnnouncedIP string          `mapstructure:"announced_ip"`
	RTCMinPort  int             `mapstructure:"rtc_min_port"`
	RTCMaxPort  int             `mapstructure:"rtc_max_port"`
	Simulcast   SimulcastConfig `mapstructure:"simulcast"`
}

type SimulcastConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Layers  []SimulcastLayer `mapstructure:"layers"`
}

// SimulcastLayer describes one encoding tier for a video producer.
type SimulcastLayer struct {
	RID                   string  `mapstructure:"rid" json:"rid"`
	ScaleResolutionDownBy float64 `mapstructure:"scale_resolution_down_by" json:"scale_resolution_down_by"`
	MaxBitrate            uint32  `mapstructure:"max_bitrate" json:"max_bitrate"`
}

type RoomConfig struct {
	DefaultMaxViewers int           `mapstructure:"default_max_viewers"`
	RecordTTL         time.Duration `mapstructure:"record_ttl"`
	// ConsumerStartPaused controls whether new consumers start paused and
	// need an explicit resume, or start flowing immediately.
	ConsumerStartPaused bool `mapstructure:"consumer_start_paused"`
}

type LimitsConfig struct {
	MaxEventsPerWindow int           `mapstructure:"max_events_per_window"`
	EventWindow        time.Duration `mapstructure:"event_window"`
	MaxConnsPerIP      int           `mapstructure:"max_conns_per_ip"`
	ConnTTL            time.Duration `mapstructure:"conn_ttl"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	FilePath string `mapstructure:"file_path"` // sqlite only
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 8087)

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)

	v.SetDefault("engine.worker_count", 0) // 0 = one per CPU
	v.SetDefault("engine.listen_ip", "0.0.0.0")
	v.SetDefault("engine.announced_ip", "")
	v.SetDefault("engine.rtc_min_port", 40000)
	v.SetDefault("engine.rtc_max_port", 49999)
	v.SetDefault("engine.simulcast.enabled", true)

	v.SetDefault("room.default_max_viewers", 1000)
	v.SetDefault("room.record_ttl", "24h")
	v.SetDefault("room.consumer_start_paused", false)

	v.SetDefault("limits.max_events_per_window", 100)
	v.SetDefault("limits.event_window", "60s")
	v.SetDefault("limits.max_conns_per_ip", 10)
	v.SetDefault("limits.conn_ttl", "1h")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "livecast")
	v.SetDefault("database.db_name", "livecast")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("admin.port", "ADMIN_PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("engine.worker_count", "ENGINE_NUM_WORKERS")
	v.BindEnv("engine.listen_ip", "ENGINE_LISTEN_IP")
	v.BindEnv("engine.announced_ip", "ENGINE_ANNOUNCED_IP")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Room.RecordTTL = parseDuration(v, "room.record_ttl", 24*time.Hour)
	cfg.Limits.EventWindow = parseDuration(v, "limits.event_window", time.Minute)
	cfg.Limits.ConnTTL = parseDuration(v, "limits.conn_ttl", time.Hour)

	if len(cfg.Engine.Simulcast.Layers) == 0 {
		cfg.Engine.Simulcast.Layers = DefaultSimulcastLayers()
	}

	return &cfg, nil
}

// DefaultSimulcastLayers returns the standard three-tier encoding ladder.
func DefaultSimulcastLayers() []SimulcastLayer {
	return []SimulcastLayer{
		{RID: "low", ScaleResolutionDownBy: 4, MaxBitrate: 500_000},
		{RID: "medium", ScaleResolutionDownBy: 2, MaxBitrate: 1_500_000},
		{RID: "high", ScaleResolutionDownBy: 1, MaxBitrate: 3_000_000},
	}
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
