package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Motion     MotionConfig     `mapstructure:"motion"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Paths      PathsConfig      `mapstructure:"paths"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	JWTSecretEnv string        `mapstructure:"jwt_secret_env"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// Argon2id hash of the operator passphrase. Empty disables auth
	// (bench mode on a trusted network).
	OperatorHash string `mapstructure:"operator_hash"`
}

type MotionConfig struct {
	Address      string        `mapstructure:"address"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MoveTimeout  time.Duration `mapstructure:"move_timeout"`
	MacroTimeout time.Duration `mapstructure:"macro_timeout"`
	IdlePoll     time.Duration `mapstructure:"idle_poll"`
	Simulated    bool          `mapstructure:"simulated"`
}

type InstrumentConfig struct {
	Address   string        `mapstructure:"address"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Simulated bool          `mapstructure:"simulated"`
}

type SensorsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type CameraConfig struct {
	// SnapshotURL is the camera's single-frame HTTP endpoint. Empty selects
	// the synthetic frame source, which is only useful for bench runs.
	SnapshotURL string        `mapstructure:"snapshot_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	// DefaultRecipe is used when neither the enqueue request nor the slot
	// names one.
	DefaultRecipe     string        `mapstructure:"default_recipe"`
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	ImageTimeout      time.Duration `mapstructure:"image_timeout"`
	SeparationCadence time.Duration `mapstructure:"separation_cadence"`
	BaselineWindow    int           `mapstructure:"baseline_window"`
}

type PathsConfig struct {
	RecipesDir      string `mapstructure:"recipes_dir"`
	CalibrationFile string `mapstructure:"calibration_file"`
	TelemetryDir    string `mapstructure:"telemetry_dir"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.max_connections", 4)

	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.token_ttl", "12h")

	viper.SetDefault("motion.dial_timeout", "5s")
	viper.SetDefault("motion.move_timeout", "30s")
	viper.SetDefault("motion.macro_timeout", "2m")
	viper.SetDefault("motion.idle_poll", "100ms")

	viper.SetDefault("instrument.timeout", "2s")
	viper.SetDefault("sensors.poll_interval", "100ms")
	viper.SetDefault("camera.timeout", "5s")

	viper.SetDefault("workflow.sample_interval", "500ms")
	viper.SetDefault("workflow.image_timeout", "10s")
	viper.SetDefault("workflow.separation_cadence", "250ms")
	viper.SetDefault("workflow.baseline_window", 8)

	viper.SetDefault("paths.recipes_dir", "recipes")
	viper.SetDefault("paths.calibration_file", "configs/calibration.yaml")
	viper.SetDefault("paths.telemetry_dir", "telemetry")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PREPCORE")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT signing secret comes from the environment, never the config file.
func (a *AuthConfig) JWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// AuthEnabled reports whether the REST surface requires operator login.
func (a *AuthConfig) AuthEnabled() bool {
	return a.OperatorHash != ""
}
