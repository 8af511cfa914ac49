// Package config loads the service configuration from command-line flags,
// environment variables, a JSON file and built-in defaults, in that order of priority.
package config

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/patric-chuzhbe/sinkgate/internal/models"
)

// MinSigningKeyLength is the shortest accepted session signing key, in bytes.
const MinSigningKeyLength = 32

type Config struct {
	RunAddr             string        `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	LogLevel            string        `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`
	DBFileName          string        `env:"FILE_STORAGE_PATH" json:"file_storage_path" validate:"omitempty,filepath"`
	DatabaseDSN         string        `env:"DATABASE_DSN" json:"database_dsn"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"-" validate:"gt=0"`

	NamespaceBackend string `env:"NAMESPACE_BACKEND" json:"namespace_backend" validate:"oneof=fs minio"`
	NamespaceRoot    string `env:"NAMESPACE_ROOT" json:"namespace_root" validate:"omitempty,filepath"`
	MinioEndpoint    string `env:"MINIO_ENDPOINT" json:"minio_endpoint" validate:"required_if=NamespaceBackend minio"`
	MinioAccessKey   string `env:"MINIO_ACCESS_KEY" json:"minio_access_key" validate:"required_if=NamespaceBackend minio"`
	MinioSecretKey   string `env:"MINIO_SECRET_KEY" json:"minio_secret_key" validate:"required_if=NamespaceBackend minio"`
	MinioBucket      string `env:"MINIO_BUCKET" json:"minio_bucket" validate:"required_if=NamespaceBackend minio"`
	MinioUseSSL      bool   `env:"MINIO_USE_SSL" json:"minio_use_ssl"`

	SessionCookieName       string        `env:"SESSION_COOKIE_NAME" json:"session_cookie_name" validate:"required"`
	SessionSigningSecretKey string        `env:"SESSION_SIGNING_SECRET_KEY" json:"session_signing_secret_key" validate:"omitempty,base64key"`
	SessionTTL              time.Duration `env:"SESSION_TTL" json:"-" validate:"gt=0"`
	SessionSweepInterval    time.Duration `env:"SESSION_SWEEP_INTERVAL" json:"-" validate:"gt=0"`

	PasswordHashCost int    `env:"PASSWORD_HASH_COST" json:"password_hash_cost" validate:"min=4,max=31"`
	LandingPage      string `env:"LANDING_PAGE" json:"landing_page" validate:"startswith=/"`
	TrustedSubnet    string `env:"TRUSTED_SUBNET" json:"trusted_subnet" validate:"omitempty,cidr"`

	EnableHTTPS bool   `env:"ENABLE_HTTPS" json:"enable_https"`
	TLSCertFile string `env:"TLS_CERT_FILE" json:"tls_cert_file" validate:"required_if=EnableHTTPS true"`
	TLSKeyFile  string `env:"TLS_KEY_FILE" json:"tls_key_file" validate:"required_if=EnableHTTPS true"`

	ConfigFile string `env:"CONFIG" json:"-"`
}

// jsonConfig is the JSON file shape. Durations are written as Go duration strings, e.g. "30s".
type jsonConfig struct {
	Config
	DBConnectionTimeout  string `json:"db_connection_timeout"`
	SessionTTL           string `json:"session_ttl"`
	SessionSweepInterval string `json:"session_sweep_interval"`
}

var defaultConfig = Config{
	RunAddr:              ":8080",
	LogLevel:             "info",
	DBConnectionTimeout:  10 * time.Second,
	NamespaceBackend:     models.NamespaceBackendFS,
	NamespaceRoot:        "./db",
	MinioBucket:          "sinkgate",
	SessionCookieName:    "sinkgate_session",
	SessionTTL:           24 * time.Hour,
	SessionSweepInterval: time.Minute,
	PasswordHashCost:     10,
	LandingPage:          "/main",
}

// SigningKey decodes SessionSigningSecretKey. It returns nil when no key is configured.
func (c *Config) SigningKey() ([]byte, error) {
	if c.SessionSigningSecretKey == "" {
		return nil, nil
	}

	return base64.URLEncoding.DecodeString(c.SessionSigningSecretKey)
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug":   true,
		"info":    true,
		"warning": true,
		"error":   true,
		"fatal":   true,
	}

	return allowedLogLevels[value]
}

func validateBase64Key(fieldLevel validator.FieldLevel) bool {
	key, err := base64.URLEncoding.DecodeString(fieldLevel.Field().String())

	return err == nil && len(key) >= MinSigningKeyLength
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("base64key", validateBase64Key)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
}

// WithDisableFlagsParsing makes New ignore command-line flags.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs makes New parse args instead of os.Args[1:].
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

// explicitFields holds the names of Config fields a source set on purpose,
// including to a zero value such as -s=false.
type explicitFields map[string]struct{}

var flagFields = map[string]string{
	"a":      "RunAddr",
	"l":      "LogLevel",
	"f":      "DBFileName",
	"d":      "DatabaseDSN",
	"n":      "NamespaceRoot",
	"t":      "TrustedSubnet",
	"s":      "EnableHTTPS",
	"c":      "ConfigFile",
	"config": "ConfigFile",
}

func parseFlags(args []string) (Config, explicitFields, error) {
	var values Config
	flags := flag.NewFlagSet("sinkgate", flag.ContinueOnError)
	flags.StringVar(&values.RunAddr, "a", "", "address and port to run server")
	flags.StringVar(&values.LogLevel, "l", "", "logger level")
	flags.StringVar(&values.DBFileName, "f", "", "JSON file name with the credential database")
	flags.StringVar(&values.DatabaseDSN, "d", "", "A string with the database connection details")
	flags.StringVar(&values.NamespaceRoot, "n", "", "directory where user namespaces are created")
	flags.StringVar(&values.TrustedSubnet, "t", "", "CIDR allowed to query internal endpoints")
	flags.BoolVar(&values.EnableHTTPS, "s", false, "serve HTTPS")
	flags.StringVar(&values.ConfigFile, "c", "", "path to a JSON configuration file")
	flags.StringVar(&values.ConfigFile, "config", "", "path to a JSON configuration file")

	if err := flags.Parse(args); err != nil {
		return Config{}, nil, err
	}

	set := explicitFields{}
	flags.Visit(func(f *flag.Flag) {
		set[flagFields[f.Name]] = struct{}{}
	})

	return values, set, nil
}

// envFields lists the fields whose environment variable is present and not empty.
func envFields() explicitFields {
	set := explicitFields{}
	configType := reflect.TypeOf(Config{})
	for i := 0; i < configType.NumField(); i++ {
		name, ok := configType.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		if value, present := os.LookupEnv(name); present && value != "" {
			set[configType.Field(i).Name] = struct{}{}
		}
	}

	return set
}

// overlay copies the listed fields of source onto values unless a stronger source already set them.
func overlay(values *Config, source Config, fields, explicit explicitFields) {
	dst := reflect.ValueOf(values).Elem()
	src := reflect.ValueOf(source)
	for name := range fields {
		if _, done := explicit[name]; done {
			continue
		}
		dst.FieldByName(name).Set(src.FieldByName(name))
		explicit[name] = struct{}{}
	}
}

func parseJSONFile(fileName string) (Config, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return Config{}, fmt.Errorf(
			"in internal/config/config.go/parseJSONFile(): error while `os.ReadFile()` calling: %w",
			err,
		)
	}

	var values jsonConfig
	if err := json.Unmarshal(data, &values); err != nil {
		return Config{}, fmt.Errorf(
			"in internal/config/config.go/parseJSONFile(): error while `json.Unmarshal()` calling: %w",
			err,
		)
	}

	durations := []struct {
		raw    string
		target *time.Duration
	}{
		{values.DBConnectionTimeout, &values.Config.DBConnectionTimeout},
		{values.SessionTTL, &values.Config.SessionTTL},
		{values.SessionSweepInterval, &values.Config.SessionSweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration %q in %s: %w", d.raw, fileName, err)
		}
		*d.target = parsed
	}

	return values.Config, nil
}

// applyDefaults fills every zero-valued field of values from defaults,
// skipping fields a stronger source set explicitly.
func applyDefaults(values *Config, defaults Config, explicit explicitFields) {
	dst := reflect.ValueOf(values).Elem()
	src := reflect.ValueOf(defaults)
	configType := dst.Type()
	for i := 0; i < dst.NumField(); i++ {
		if _, done := explicit[configType.Field(i).Name]; done {
			continue
		}
		if dst.Field(i).IsZero() {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// New builds the configuration. Flags win over environment variables,
// environment variables over the JSON file, and the JSON file over defaults.
// A flag or a non-empty environment variable counts even when it holds a zero value.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                os.Args[1:],
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	var values Config
	explicit := explicitFields{}
	if !options.disableFlagsParsing {
		valuesFromFlags, setByFlags, err := parseFlags(options.args)
		if err != nil {
			return nil, err
		}
		overlay(&values, valuesFromFlags, setByFlags, explicit)
	}

	var valuesFromEnv Config
	err = env.Parse(&valuesFromEnv)
	if err != nil {
		return nil, err
	}
	overlay(&values, valuesFromEnv, envFields(), explicit)

	if values.ConfigFile != "" {
		valuesFromJSON, err := parseJSONFile(values.ConfigFile)
		if err != nil {
			return nil, err
		}
		applyDefaults(&values, valuesFromJSON, explicit)
	}

	applyDefaults(&values, defaultConfig, explicit)

	if err := values.validate(); err != nil {
		return nil, err
	}

	return &values, nil
}
