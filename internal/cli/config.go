package cli

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres  = "postgres"
	DriverCockroach = "cockroach"
	DriverMySQL     = "mysql"
	DriverSqlite    = "sqlite"

	LogColor = "color"
	LogPlain = "plain"
	LogJSON  = "json"

	DefaultPort            = 5432
	DefaultConnectTimeout  = 10
	DefaultApplicationName = "pgtern"
	DefaultConfigPath      = "pgtern.yaml"

	envPrefix       = "PGTERN"
	mysqlTLSProfile = "pgtern"
)

var (
	ErrConfigExists    = errors.New("config file already exists")
	ErrInvalidConfig   = errors.New("invalid pgtern configuration")
	ErrUnknownDriver   = errors.New("unknown database driver")
	ErrUnknownLogStyle = errors.New("unknown log style")
)

type Config struct {
	Driver                string `yaml:"driver" mapstructure:"driver"`
	App                   string `yaml:"app" mapstructure:"app"`
	Host                  string `yaml:"host" mapstructure:"host"`
	Port                  int    `yaml:"port" mapstructure:"port"`
	DBName                string `yaml:"dbname" mapstructure:"dbname"`
	User                  string `yaml:"user" mapstructure:"user"`
	Password              string `yaml:"password" mapstructure:"password"`
	Passfile              string `yaml:"passfile" mapstructure:"passfile"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
	SSL                   bool   `yaml:"ssl" mapstructure:"ssl"`
	SSLRootCert           string `yaml:"sslrootcert" mapstructure:"sslrootcert"`
	MigrationsTable       string `yaml:"migrations_table" mapstructure:"migrations_table"`
	Schema                string `yaml:"schema" mapstructure:"schema"`
	Log                   string `yaml:"log" mapstructure:"log"`
	Debug                 bool   `yaml:"debug" mapstructure:"debug"`
	SQL                   bool   `yaml:"sql" mapstructure:"sql"`
}

// envBindings lists the environment variables for every config key,
// the first one set wins
var envBindings = map[string][]string{
	"driver":                  {"PGTERN_DRIVER"},
	"app":                     {"PGTERN_APP"},
	"host":                    {"PGTERN_HOST", "PGHOST"},
	"port":                    {"PGTERN_PORT", "PGPORT"},
	"dbname":                  {"PGTERN_DBNAME", "PGDATABASE"},
	"user":                    {"PGTERN_USER", "PGUSER"},
	"password":                {"PGTERN_PASSWORD", "PGPASSWORD"},
	"passfile":                {"PGTERN_PASSFILE", "PGPASSFILE"},
	"connect_timeout_seconds": {"PGTERN_CONNECT_TIMEOUT_SECONDS"},
	"ssl":                     {"PGTERN_SSL"},
	"sslrootcert":             {"PGTERN_SSLROOTCERT", "PGSSLROOTCERT"},
	"migrations_table":        {"PGTERN_MIGRATIONS_TABLE"},
	"schema":                  {"PGTERN_SCHEMA"},
	"log":                     {"PGTERN_LOG"},
	"debug":                   {"PGTERN_DEBUG"},
	"sql":                     {"PGTERN_SQL"},
}

// LoadConfig reads the yaml config at path, resolves %%NAME%% values from the
// environment, overlays PGTERN_* and libpq style variables and fills defaults
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read pgtern configuration file")
	}

	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var fileCfg Config
	if err := yaml.Unmarshal(b, &fileCfg); err != nil {
		return nil, errors.Wrap(err, "could not parse pgtern configuration file")
	}

	resolveEnv(&fileCfg)

	cfg, err := overlayEnv(&fileCfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolveEnv(cfg *Config) {
	for _, s := range []*string{
		&cfg.Driver, &cfg.App, &cfg.Host, &cfg.DBName, &cfg.User, &cfg.Password,
		&cfg.Passfile, &cfg.SSLRootCert, &cfg.MigrationsTable, &cfg.Schema, &cfg.Log,
	} {
		*s = fromEnv(*s)
	}
}

func fromEnv(value string) string {
	if len(value) > 4 && strings.HasPrefix(value, "%%") && strings.HasSuffix(value, "%%") {
		return os.Getenv(strings.Trim(value, "%"))
	}

	return value
}

func overlayEnv(fileCfg *Config) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)

	v.SetDefault("driver", fileCfg.Driver)
	v.SetDefault("app", fileCfg.App)
	v.SetDefault("host", fileCfg.Host)
	v.SetDefault("port", fileCfg.Port)
	v.SetDefault("dbname", fileCfg.DBName)
	v.SetDefault("user", fileCfg.User)
	v.SetDefault("password", fileCfg.Password)
	v.SetDefault("passfile", fileCfg.Passfile)
	v.SetDefault("connect_timeout_seconds", fileCfg.ConnectTimeoutSeconds)
	v.SetDefault("ssl", fileCfg.SSL)
	v.SetDefault("sslrootcert", fileCfg.SSLRootCert)
	v.SetDefault("migrations_table", fileCfg.MigrationsTable)
	v.SetDefault("schema", fileCfg.Schema)
	v.SetDefault("log", fileCfg.Log)
	v.SetDefault("debug", fileCfg.Debug)
	v.SetDefault("sql", fileCfg.SQL)

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, errors.Wrapf(err, "could not bind %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode pgtern configuration")
	}

	return &cfg, nil
}

func (cfg *Config) defaults() error {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}

	if cfg.Log == "" {
		cfg.Log = LogColor
	}

	if cfg.ConnectTimeoutSeconds == 0 {
		cfg.ConnectTimeoutSeconds = DefaultConnectTimeout
	}

	if cfg.Driver != DriverPostgres && cfg.Driver != DriverCockroach {
		return nil
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Passfile == "" || cfg.SSLRootCert == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "could not read user home directory")
		}

		if cfg.Passfile == "" {
			cfg.Passfile = filepath.Join(home, ".pgpass")
		}

		if cfg.SSLRootCert == "" {
			cfg.SSLRootCert = filepath.Join(home, ".postgresql", "root.crt")
		}
	}

	return nil
}

func (cfg *Config) validate() error {
	switch cfg.Driver {
	case DriverPostgres, DriverCockroach, DriverMySQL:
		if cfg.Host == "" {
			return errors.Wrap(ErrInvalidConfig, "host cannot be empty")
		}
	case DriverSqlite:
	default:
		return errors.Wrapf(ErrUnknownDriver, "driver [%s]", cfg.Driver)
	}

	if cfg.DBName == "" {
		return errors.Wrap(ErrInvalidConfig, "dbname cannot be empty")
	}

	switch cfg.Log {
	case LogColor, LogPlain, LogJSON:
	default:
		return errors.Wrapf(ErrUnknownLogStyle, "log [%s]", cfg.Log)
	}

	return nil
}

func (cfg *Config) ConnectTimeout() time.Duration {
	return time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
}

// MigrationsDir is the folder of this app inside the migrations root
func (cfg *Config) MigrationsDir(root string) string {
	if cfg.App == "" {
		return root
	}

	return filepath.Join(root, cfg.App)
}

// DriverName is the database/sql driver registered for the configured database
func (cfg *Config) DriverName() string {
	switch cfg.Driver {
	case DriverMySQL:
		return "mysql"
	case DriverSqlite:
		return "sqlite3"
	default:
		return "pgx"
	}
}

func (cfg *Config) DSN() (string, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverCockroach:
		return cfg.postgresDSN(), nil
	case DriverMySQL:
		return cfg.mysqlDSN()
	case DriverSqlite:
		return cfg.DBName + "?_busy_timeout=5000&_foreign_keys=on", nil
	}

	return "", errors.Wrapf(ErrUnknownDriver, "driver [%s]", cfg.Driver)
}

// postgresDSN builds a libpq keyword/value string. With ssl on the server
// certificate is verified when the root certificate file is present.
func (cfg *Config) postgresDSN() string {
	params := []string{
		dsnParam("host", cfg.Host),
		dsnParam("port", strconv.Itoa(cfg.Port)),
		dsnParam("dbname", cfg.DBName),
		dsnParam("application_name", DefaultApplicationName),
		dsnParam("connect_timeout", strconv.Itoa(cfg.ConnectTimeoutSeconds)),
	}

	if cfg.User != "" {
		params = append(params, dsnParam("user", cfg.User))
	}

	if cfg.Password != "" {
		params = append(params, dsnParam("password", cfg.Password))
	}

	if cfg.Passfile != "" && fileExists(cfg.Passfile) {
		params = append(params, dsnParam("passfile", cfg.Passfile))
	}

	switch {
	case !cfg.SSL:
		params = append(params, dsnParam("sslmode", "disable"))
	case fileExists(cfg.SSLRootCert):
		params = append(params, dsnParam("sslmode", "verify-ca"), dsnParam("sslrootcert", cfg.SSLRootCert))
	default:
		params = append(params, dsnParam("sslmode", "require"))
	}

	return strings.Join(params, " ")
}

func dsnParam(key, value string) string {
	if value == "" || strings.ContainsAny(value, ` '\`) {
		value = "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value) + "'"
	}

	return fmt.Sprintf("%s=%s", key, value)
}

// mysqlDSN enables multi statements so a migration file may hold more than one statement
func (cfg *Config) mysqlDSN() (string, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.DBName = cfg.DBName
	mc.MultiStatements = true
	mc.ParseTime = true
	mc.Timeout = cfg.ConnectTimeout()

	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	if cfg.SSL {
		mc.TLSConfig = "true"

		if cfg.SSLRootCert != "" && fileExists(cfg.SSLRootCert) {
			if err := registerMySQLRootCert(cfg.SSLRootCert); err != nil {
				return "", err
			}
			mc.TLSConfig = mysqlTLSProfile
		}
	}

	return mc.FormatDSN(), nil
}

func registerMySQLRootCert(path string) error {
	pem, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "could not read ssl root certificate")
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return errors.Errorf("no certificates found in [%s]", path)
	}

	return mysql.RegisterTLSConfig(mysqlTLSProfile, &tls.Config{RootCAs: pool})
}

func InitCfg(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrConfigExists, "path [%s]", path)
		}
		return errors.Wrap(err, "could not create config file")
	}

	if _, err := f.WriteString(configFileStub); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not write config file")
	}

	return f.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

const configFileStub = `# pgtern configuration
# values written as %%NAME%% are read from the environment variable NAME,
# PGTERN_<KEY> and PGHOST, PGPORT, PGDATABASE, PGUSER, PGPASSWORD,
# PGPASSFILE, PGSSLROOTCERT override the file

# postgres | cockroach | mysql | sqlite
driver: postgres
# migrations are read from <migdir>/<app>
app: ""
host: localhost
port: 5432
dbname: postgres
user: postgres
password: "%%PGPASSWORD%%"
passfile: ""
connect_timeout_seconds: 10
ssl: false
sslrootcert: ""
migrations_table: schema_migrations
schema: ""

# color | plain | json
log: color
debug: false
sql: true
`
