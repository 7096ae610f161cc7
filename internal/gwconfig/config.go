// Package gwconfig loads the gateway's process configuration via viper,
// grounded on the teacher's InitViper/OSSConfig pattern (env-var prefix
// binding, config file discovery, struct-tag validation via
// go-playground/validator/v10), adapted to this gateway's own
// GATEKEEPER_*/DATA_DIR/APPROVAL_PROVIDER settings (spec.md §6).
package gwconfig

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the gateway's fully-resolved process configuration.
type Config struct {
	Port    int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Secret  string `mapstructure:"secret" validate:"required,min=32"`

	PolicySource string `mapstructure:"policy_source" validate:"required,oneof=file"`
	PolicyPath   string `mapstructure:"policy_path" validate:"required"`

	DataDir string `mapstructure:"data_dir" validate:"required"`

	ApprovalProvider string `mapstructure:"approval_provider" validate:"omitempty,oneof=local slack webhook controlplane runestone"`
	SlackWebhookURL  string `mapstructure:"slack_webhook_url"`
	ControlPlaneURL  string `mapstructure:"runestone_api_url"`
	ControlPlaneKey  string `mapstructure:"runestone_api_key"`

	DemoMode bool   `mapstructure:"demo_mode"`
	Role     string `mapstructure:"role"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	IdempotencyPendingTTLMinutes int `mapstructure:"idempotency_pending_ttl_minutes" validate:"gte=0"`
}

// ApprovalsDir, IdempotencyDir, AuditDir return the three subdirectories of
// DataDir the persisted-state layout (spec.md §6) names.
func (c *Config) ApprovalsDir() string    { return c.DataDir + "/approvals" }
func (c *Config) IdempotencyDir() string  { return c.DataDir + "/idempotency" }
func (c *Config) AuditDir() string        { return c.DataDir + "/audit" }

// Load reads configuration from (in order of increasing precedence) a
// config file discovered in the current directory, $HOME/.gatekeeper, or
// /etc/gatekeeper; then GATEKEEPER_*-prefixed environment variables. It
// applies defaults, then validates the result, refusing to return a config
// whose secret is shorter than 32 characters per spec.md §6.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("gatekeeper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.gatekeeper")
	v.AddConfigPath("/etc/gatekeeper")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnvNames(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("policy_source", "file")
	v.SetDefault("policy_path", "policy.yaml")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("approval_provider", "local")
	v.SetDefault("demo_mode", false)
	v.SetDefault("role", "agent")
	v.SetDefault("log_level", "info")
	v.SetDefault("idempotency_pending_ttl_minutes", 10)
}

// bindLegacyEnvNames binds the exact environment variable names spec.md §6
// documents (some of which don't follow the GATEKEEPER_ prefix convention
// AutomaticEnv alone would derive, e.g. BASE_URL, DATA_DIR, DEMO_MODE).
func bindLegacyEnvNames(v *viper.Viper) {
	bindings := map[string][]string{
		"port":              {"GATEKEEPER_PORT"},
		"base_url":          {"BASE_URL"},
		"secret":            {"GATEKEEPER_SECRET"},
		"policy_source":     {"POLICY_SOURCE"},
		"policy_path":       {"POLICY_PATH"},
		"data_dir":          {"DATA_DIR"},
		"approval_provider": {"APPROVAL_PROVIDER"},
		"slack_webhook_url": {"SLACK_WEBHOOK_URL"},
		"runestone_api_url": {"RUNESTONE_API_URL"},
		"runestone_api_key": {"RUNESTONE_API_KEY"},
		"demo_mode":         {"DEMO_MODE"},
		"role":              {"GATEKEEPER_ROLE"},
		"log_level":         {"GATEKEEPER_LOG_LEVEL"},
	}
	for key, envNames := range bindings {
		args := append([]string{key}, envNames...)
		v.BindEnv(args...)
	}
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
