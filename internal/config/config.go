package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "dsphcase.cfg.json"

// ExecutablesConfig holds the paths of the external case tools.
type ExecutablesConfig struct {
	GenCase      string `json:"gencase" mapstructure:"gencase"`
	DualSPHysics string `json:"dualsphysics" mapstructure:"dualsphysics"`
	PartVTK      string `json:"partvtk" mapstructure:"partvtk"`
}

// RunConfig holds solver and event loop settings.
type RunConfig struct {
	Processor     string        `json:"processor" mapstructure:"processor"`
	GuardInterval time.Duration `json:"guardInterval" mapstructure:"guardInterval"`
	GuardBackoff  time.Duration `json:"guardBackoff" mapstructure:"guardBackoff"`
}

// StoreConfig selects and configures the project store backend.
type StoreConfig struct {
	Type           string `json:"type" mapstructure:"type"`
	Compress       bool   `json:"compress" mapstructure:"compress"`
	NativeDocument string `json:"nativeDocument" mapstructure:"nativeDocument"`
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB settings for run progress metrics.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Address  string `json:"address" mapstructure:"address"`
	Facility string `json:"facility" mapstructure:"facility"`
}

// StreamConfig holds the WebSocket progress stream settings.
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// StatusConfig holds the status file writer settings.
type StatusConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// SetDefaults registers the default values of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./dsphlogs")

	viper.SetDefault("executables.gencase", "")
	viper.SetDefault("executables.dualsphysics", "")
	viper.SetDefault("executables.partvtk", "")

	viper.SetDefault("run.processor", "CPU")
	viper.SetDefault("run.guardInterval", "500ms")
	viper.SetDefault("run.guardBackoff", "2s")

	viper.SetDefault("store.type", "file")
	viper.SetDefault("store.compress", false)
	viper.SetDefault("store.nativeDocument", "DSPH_Case.FCStd")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "dsphcase")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "dsphcase")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "dsph-metrics")
	viper.SetDefault("influx.bucket", "dsph-runs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
	viper.SetDefault("graylog.facility", "dsphcase")

	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("status.enabled", true)
	viper.SetDefault("status.interval", "5s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetExecutablesConfig returns the configured tool paths.
func GetExecutablesConfig() ExecutablesConfig {
	return ExecutablesConfig{
		GenCase:      viper.GetString("executables.gencase"),
		DualSPHysics: viper.GetString("executables.dualsphysics"),
		PartVTK:      viper.GetString("executables.partvtk"),
	}
}

// GetRunConfig returns solver and event loop settings.
func GetRunConfig() RunConfig {
	return RunConfig{
		Processor:     viper.GetString("run.processor"),
		GuardInterval: viper.GetDuration("run.guardInterval"),
		GuardBackoff:  viper.GetDuration("run.guardBackoff"),
	}
}

// GetStoreConfig returns the project store settings.
func GetStoreConfig() StoreConfig {
	return StoreConfig{
		Type:           viper.GetString("store.type"),
		Compress:       viper.GetBool("store.compress"),
		NativeDocument: viper.GetString("store.nativeDocument"),
	}
}

// GetDBConfig returns the Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled:  viper.GetBool("graylog.enabled"),
		Address:  viper.GetString("graylog.address"),
		Facility: viper.GetString("graylog.facility"),
	}
}

// GetStreamConfig returns the progress stream settings.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled: viper.GetBool("stream.enabled"),
		URL:     viper.GetString("stream.url"),
		Secret:  viper.GetString("stream.secret"),
	}
}

// GetStatusConfig returns the status file settings.
func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Enabled:  viper.GetBool("status.enabled"),
		Interval: viper.GetDuration("status.interval"),
	}
}
