// Package config loads the run configuration consumed by every component.
//
// The configuration is a single YAML file parsed once at startup into a
// typed Config; components receive only the slice they need. The file path
// comes from CONFIG_FILE_PATH, falling back to ./config.yml.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvConfigPath names the environment variable holding the config path.
	EnvConfigPath = "CONFIG_FILE_PATH"

	defaultConfigPath = "./config.yml"
)

// Config is the typed view of the YAML run configuration.
type Config struct {
	RunEnv string

	// Database holds the relational store DSN. postgres:// selects the
	// pgx driver; any other value is treated as a sqlite file path
	// (":memory:" is accepted for tests).
	Database DatabaseConfig

	Server ServerConfig

	// ServerSecretKey signs job and admin tokens.
	ServerSecretKey string

	AdminUsername string
	// AdminPasswordHash is the sha256 hex of the configured cleartext
	// admin password. The cleartext is discarded at load time.
	AdminPasswordHash string

	BasePath         string
	ServerPublicHost string
	StatusUpdateHost string
	OutputsBasePath  string

	JobsRunDir    string
	JobsTmpDir    string
	JobsOutputDir string

	LSF LSFConfig

	// JobTypes maps a submittable job type name to the container image the
	// cluster runs it with and its optional requirements hook. Submission
	// of an unlisted type is rejected.
	JobTypes map[string]JobTypeConfig

	// SetDockerRegistryCredentials is a shell fragment injected into the
	// submit script to log into a private image registry before pull.
	// Empty for public images.
	SetDockerRegistryCredentials string

	// RunJobs gates actual cluster submission. When false, dispatch
	// prepares the workspace but does not execute the submit script.
	RunJobs bool
	// RunStatusScript gates the status agent's polling loop.
	RunStatusScript bool

	StatusAgent StatusAgentConfig
	LockCache   LockCacheConfig
	RateLimit   RateLimitConfig
	Outputs     OutputsConfig
	Statistics  StatisticsConfig

	Logging LoggingConfig
}

type DatabaseConfig struct {
	URI string
}

type ServerConfig struct {
	Host string
	Port int
}

type LSFConfig struct {
	User      string
	Host      string
	IDRSAFile string
}

type JobTypeConfig struct {
	DockerImageURL     string `mapstructure:"docker_image_url"`
	RequirementsScript string `mapstructure:"requirements_script"`
}

type StatusAgentConfig struct {
	LockValiditySeconds int
	SleepSeconds        int
}

func (c StatusAgentConfig) LockValidity() time.Duration {
	return time.Duration(c.LockValiditySeconds) * time.Second
}

func (c StatusAgentConfig) SleepTime() time.Duration {
	return time.Duration(c.SleepSeconds) * time.Second
}

// LockCacheConfig selects the shared lock cache backend. With an empty
// RedisAddr the in-process cache is used (single-replica deployments).
type LockCacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RateLimitConfig carries per-route-group limits as "<n>/<unit>" strings,
// e.g. "10/minute". Empty means unlimited.
type RateLimitConfig struct {
	AdminLogin     string
	JobSubmission  string
	ProgressUpdate string
}

type OutputsConfig struct {
	// IgnoreGlobs are doublestar patterns (relative to the job output dir)
	// skipped when registering output files on FINISHED.
	IgnoreGlobs []string
}

type StatisticsConfig struct {
	URL            string
	TimeoutSeconds int
}

type LoggingConfig struct {
	Level string
}

// Load reads the YAML configuration from path. An empty path consults
// CONFIG_FILE_PATH and then ./config.yml.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		RunEnv: v.GetString("run_env"),
		Database: DatabaseConfig{
			URI: v.GetString("sql_alchemy.database_uri"),
		},
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		ServerSecretKey:  v.GetString("server_secret_key"),
		AdminUsername:    v.GetString("admin_username"),
		BasePath:         v.GetString("base_path"),
		ServerPublicHost: v.GetString("server_public_host"),
		StatusUpdateHost: v.GetString("status_update_host"),
		OutputsBasePath:  v.GetString("outputs_base_path"),
		JobsRunDir:       v.GetString("jobs_run_dir"),
		JobsTmpDir:       v.GetString("jobs_tmp_dir"),
		JobsOutputDir:    v.GetString("jobs_output_dir"),
		LSF: LSFConfig{
			User:      v.GetString("lsf_submission.lsf_user"),
			Host:      v.GetString("lsf_submission.lsf_host"),
			IDRSAFile: v.GetString("lsf_submission.id_rsa_file"),
		},
		SetDockerRegistryCredentials: v.GetString("set_docker_registry_credentials"),
		RunJobs:                      v.GetBool("run_jobs"),
		RunStatusScript:              v.GetBool("run_status_script"),
		StatusAgent: StatusAgentConfig{
			LockValiditySeconds: v.GetInt("status_agent.lock_validity_seconds"),
			SleepSeconds:        v.GetInt("status_agent.sleep_seconds"),
		},
		LockCache: LockCacheConfig{
			RedisAddr:     v.GetString("lock_cache.redis_addr"),
			RedisPassword: v.GetString("lock_cache.redis_password"),
			RedisDB:       v.GetInt("lock_cache.redis_db"),
		},
		RateLimit: RateLimitConfig{
			AdminLogin:     v.GetString("rate_limit.rates.admin_login"),
			JobSubmission:  v.GetString("rate_limit.rates.job_submission"),
			ProgressUpdate: v.GetString("rate_limit.rates.progress_update"),
		},
		Outputs: OutputsConfig{
			IgnoreGlobs: v.GetStringSlice("outputs.ignore_globs"),
		},
		Statistics: StatisticsConfig{
			URL:            v.GetString("job_statistics.url"),
			TimeoutSeconds: v.GetInt("job_statistics.timeout_seconds"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
		},
	}

	if err := v.UnmarshalKey("job_types", &cfg.JobTypes); err != nil {
		return nil, fmt.Errorf("parse job_types: %w", err)
	}

	// The cleartext admin password never leaves this function.
	if pw := v.GetString("admin_password"); pw != "" {
		sum := sha256.Sum256([]byte(pw))
		cfg.AdminPasswordHash = hex.EncodeToString(sum[:])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run_env", "dev")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("run_jobs", true)
	v.SetDefault("run_status_script", true)
	v.SetDefault("status_agent.lock_validity_seconds", 30)
	v.SetDefault("status_agent.sleep_seconds", 5)
	v.SetDefault("job_statistics.timeout_seconds", 5)
	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ServerSecretKey) == "" {
		return fmt.Errorf("server_secret_key is required")
	}
	if strings.TrimSpace(c.Database.URI) == "" {
		return fmt.Errorf("sql_alchemy.database_uri is required")
	}
	for _, dir := range []struct{ key, val string }{
		{"jobs_run_dir", c.JobsRunDir},
		{"jobs_tmp_dir", c.JobsTmpDir},
		{"jobs_output_dir", c.JobsOutputDir},
	} {
		if strings.TrimSpace(dir.val) == "" {
			return fmt.Errorf("%s is required", dir.key)
		}
	}
	for name, jt := range c.JobTypes {
		if strings.TrimSpace(jt.DockerImageURL) == "" {
			return fmt.Errorf("job_types.%s.docker_image_url is required", name)
		}
	}
	return nil
}

// JoinURL concatenates URL segments with exactly one slash between each and
// no trailing slash, regardless of slashes in the configured values.
func JoinURL(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		trimmed := strings.Trim(strings.TrimSpace(seg), "/")
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, "/")
}

// PublicOutputURL builds the externally reachable URL for one output file.
func (c *Config) PublicOutputURL(jobID, relPath string) string {
	return JoinURL(c.ServerPublicHost, c.BasePath, c.OutputsBasePath, jobID, relPath)
}

// StatusUpdateURL is the endpoint the running worker PATCHes progress to.
func (c *Config) StatusUpdateURL(jobID string) string {
	return JoinURL(c.StatusUpdateHost, c.BasePath, "status", jobID)
}
