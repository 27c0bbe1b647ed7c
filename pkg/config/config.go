package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración del agente de tomas (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App    AppConfig
	DB     DBConfig
	Local  LocalConfig
	Sync   SyncConfig
	Redis  RedisConfig
	JWT    JWTConfig
	HTTP   HTTPConfig
	Policy PolicyConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig configuración del almacén remoto (PostgreSQL).
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// LocalConfig caché local embebida (SQLite) para operación sin conexión.
type LocalConfig struct {
	Path string
}

// SyncConfig parámetros de sincronización y de llamadas remotas.
type SyncConfig struct {
	Branches      []int64       // alcance de sucursales para la lectura de documentos abiertos
	WebStatus     string        // filtro de estado web de cabeceras ("A" = activas)
	BatchSize     int           // tamaño de lote al insertar documentos localmente
	RemoteTimeout time.Duration // timeout de cada llamada remota
}

// RedisConfig bloqueo distribuido por documento (opcional: Addr vacío = sólo bloqueo en proceso).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled indica si hay Redis configurado.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP del agente.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PolicyConfig políticas de negocio configurables.
type PolicyConfig struct {
	// LastLineCancel qué hacer al anular parcialmente la última línea: "keep" | "cancel".
	LastLineCancel string
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, SYNC_BRANCHES, REDIS_ADDR, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	branches, err := getInt64List(v, "SYNC_BRANCHES")
	if err != nil {
		return nil, fmt.Errorf("SYNC_BRANCHES: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "toma-inventario"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "inventario"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    getInt(v, "DB_MAX_CONNS", 10),
		},
		Local: LocalConfig{
			Path: getString(v, "LOCAL_DB_PATH", "data/tomas.db"),
		},
		Sync: SyncConfig{
			Branches:      branches,
			WebStatus:     getString(v, "SYNC_WEB_STATUS", "A"),
			BatchSize:     getInt(v, "SYNC_BATCH_SIZE", 100),
			RemoteTimeout: getDuration(v, "REMOTE_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getString(v, "REDIS_ADDR", ""),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
			LockTTL:  getDuration(v, "REDIS_LOCK_TTL", time.Minute),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 480),
			Issuer:     getString(v, "JWT_ISSUER", "toma-inventario"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "127.0.0.1"),
			Port: getInt(v, "HTTP_PORT", 8085),
		},
		Policy: PolicyConfig{
			LastLineCancel: getString(v, "POLICY_LAST_LINE_CANCEL", "keep"),
		},
	}

	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = 100
	}
	switch cfg.Policy.LastLineCancel {
	case "keep", "cancel":
	default:
		return nil, fmt.Errorf("POLICY_LAST_LINE_CANCEL inválido: %q", cfg.Policy.LastLineCancel)
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		d := v.GetDuration(key)
		if d > 0 {
			return d
		}
	}
	return def
}

// getInt64List interpreta una lista separada por comas ("1,2,5").
func getInt64List(v *viper.Viper, key string) ([]int64, error) {
	if !v.IsSet(key) {
		return nil, nil
	}
	var out []int64
	for _, p := range strings.Split(v.GetString(key), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
