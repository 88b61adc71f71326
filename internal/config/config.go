package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pepperpark/emlreplicator/internal/imaputil"
)

// EnvPrefix is prepended to upper-cased keys when reading the environment,
// e.g. EMLREPLICATOR_PASSWORD.
const EnvPrefix = "EMLREPLICATOR"

// Keys shared by flags, environment and config file.
const (
	KeyServer         = "server"
	KeyPort           = "port"
	KeyLogin          = "login"
	KeyPassword       = "password"
	KeyFolder         = "folder"
	KeyDirectory      = "directory"
	KeyRecursive      = "recursive"
	KeyFollowSymlink  = "follow-symlink"
	KeyRandomID       = "random-message-id"
	KeySkipVerifyCert = "skip-verify-cert"
	KeyStartTLS       = "starttls"
	KeyExtension      = "extension"
	KeyKeepDate       = "keep-date"
	KeyCreateFolder   = "create-folder"
	KeyDryRun         = "dry-run"
	KeyReport         = "report"
	KeyVerbose        = "verbose"
)

// Config is built once at startup and passed around by value.
type Config struct {
	Server         string
	Port           int
	Login          string
	Password       string
	Folder         string
	Directory      string
	Recursive      bool
	FollowSymlink  bool
	RandomID       bool
	SkipVerifyCert bool

	StartTLS     bool
	Extension    string
	KeepDate     bool
	CreateFolder bool
	DryRun       bool
	ReportPath   string
	Verbose      bool
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 993)
	v.SetDefault(KeyFolder, "INBOX")
	v.SetDefault(KeyDirectory, ".")
	v.SetDefault(KeyExtension, "eml")
}

// New returns a viper instance reading EMLREPLICATOR_* variables and, when
// file is not empty, the given YAML config file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file == "" {
		return v, nil
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", file, err)
	}
	return v, nil
}

// Load snapshots v into a Config.
func Load(v *viper.Viper) Config {
	return Config{
		Server:         v.GetString(KeyServer),
		Port:           v.GetInt(KeyPort),
		Login:          v.GetString(KeyLogin),
		Password:       v.GetString(KeyPassword),
		Folder:         v.GetString(KeyFolder),
		Directory:      v.GetString(KeyDirectory),
		Recursive:      v.GetBool(KeyRecursive),
		FollowSymlink:  v.GetBool(KeyFollowSymlink),
		RandomID:       v.GetBool(KeyRandomID),
		SkipVerifyCert: v.GetBool(KeySkipVerifyCert),
		StartTLS:       v.GetBool(KeyStartTLS),
		Extension:      v.GetString(KeyExtension),
		KeepDate:       v.GetBool(KeyKeepDate),
		CreateFolder:   v.GetBool(KeyCreateFolder),
		DryRun:         v.GetBool(KeyDryRun),
		ReportPath:     v.GetString(KeyReport),
		Verbose:        v.GetBool(KeyVerbose),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Server == "" && !c.DryRun {
		return errors.New("missing IMAP server")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Folder == "" {
		return errors.New("missing target folder")
	}
	if c.Extension == "" || strings.HasPrefix(c.Extension, ".") {
		return fmt.Errorf("invalid extension %q (expected e.g. \"eml\", without dot)", c.Extension)
	}
	return nil
}

// Endpoint returns the connection settings of c.
func (c Config) Endpoint() imaputil.Endpoint {
	return imaputil.Endpoint{
		Host:       c.Server,
		Port:       c.Port,
		User:       c.Login,
		Pass:       c.Password,
		StartTLS:   c.StartTLS,
		SkipVerify: c.SkipVerifyCert,
	}
}

// CredentialKey names the keyring entry holding the password for c.
func (c Config) CredentialKey() string {
	return c.Login + "@" + c.Server
}
