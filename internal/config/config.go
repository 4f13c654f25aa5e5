// Package config reads the runtime's entire configuration surface from
// environment variables: there is no config file and no CLI flag surface.
// Every tunable has a documented default and, for numeric tunables, a
// clamped valid range.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved, validated configuration for one run.
type Config struct {
	Network   NetworkConfig
	Auth      AuthConfig
	Files     FilesConfig
	Server    ServerConfig
	Extension ExtensionConfig
	Admin     AdminConfig
}

// NetworkConfig holds listen ports and tick-loop pacing.
type NetworkConfig struct {
	TCPPort        int
	UDPPort        int
	TickSleep      time.Duration
	BusySleep      time.Duration
	MaxAcceptPerTick int
	MaxPacketBytes int
}

// AuthConfig holds credential and policy tunables.
type AuthConfig struct {
	SendNetworkDelay    bool
	EnforceMD5          bool
	UserDBEnable        bool
	AutoRegister        bool
	RSADecryptEnable    bool
	PasswordStrip32     bool
	MaxPlayersPerDevice int
	SignupTimeout       time.Duration
	OpenSSLExe          string
}

// FilesConfig holds on-disk paths the host reads (and, for two of them,
// writes).
type FilesConfig struct {
	Registry        string
	UserFile        string
	Whitelist       string
	BanIP           string
	TempBanIP       string
	BanUUID         string
	BanWords        string
	UUIDBinding     string
	RSAPublicKey    string
	RSAPrivateKey   string
	ExtensionCoreEntry string
}

// ServerConfig holds identity/presence values surfaced over UDP discovery
// and in post-setup notifications.
type ServerConfig struct {
	Capacity          int
	DefaultAvatar     string
	DefaultPlayerID   int
	MOTD              string
	Version           string
	Description       string
	IconURL           string
	MD5               string
	FakeRSAPublicKey  string
	ExtensionRefresh  time.Duration
	MaxErrorCount     int
}

// ExtensionConfig controls whether extensions are bootstrapped at all and,
// if so, which interpreter runs their lifecycle scripts.
type ExtensionConfig struct {
	Bootstrap bool
	LuaExe    string
}

// AdminConfig holds the optional read-only HTTP admin surface settings.
type AdminConfig struct {
	Addr     string // empty disables the admin surface
	LogLevel string
}

// Load reads every tunable from the environment, applying defaults and
// clamps. It never fails: unknown or unparsable values fall back to
// their documented default and out-of-range numbers are clamped into
// their valid range, matching the original runtime's env-parsing
// behavior.
func Load() *Config {
	return &Config{
		Network: NetworkConfig{
			TCPPort:          envInt("SENGOO_TCP_PORT", 9527, 1, 65535),
			UDPPort:          envInt("SENGOO_UDP_PORT", 9527, 1, 65535),
			TickSleep:        envDurationMS("SENGOO_TICK_SLEEP_MS", 20, 1, 60_000),
			BusySleep:        envDurationMS("SENGOO_BUSY_SLEEP_MS", 1, 0, 1_000),
			MaxAcceptPerTick: envInt("SENGOO_MAX_ACCEPT_PER_TICK", 16, 1, 128),
			MaxPacketBytes:   envInt("SENGOO_MAX_PACKET_BYTES", 65536, 256, 65536),
		},
		Auth: AuthConfig{
			SendNetworkDelay:    envBool("SENGOO_AUTH_SEND_NETWORK_DELAY", true),
			EnforceMD5:          envBool("SENGOO_AUTH_ENFORCE_MD5", false),
			UserDBEnable:        envBool("SENGOO_AUTH_USERDB_ENABLE", true),
			AutoRegister:        envBool("SENGOO_AUTH_USERDB_AUTO_REGISTER", true),
			RSADecryptEnable:    envBool("SENGOO_AUTH_RSA_DECRYPT_ENABLE", false),
			PasswordStrip32:     envBool("SENGOO_AUTH_PASSWORD_STRIP32", true),
			MaxPlayersPerDevice: envInt("SENGOO_AUTH_MAX_PLAYERS_PER_DEVICE", 50, 1, 10_000),
			SignupTimeout:       envDurationMS("SENGOO_AUTH_SIGNUP_TIMEOUT_MS", 180_000, 1_000, 3_600_000),
			OpenSSLExe:          envString("SENGOO_AUTH_OPENSSL_EXE", "openssl"),
		},
		Files: FilesConfig{
			Registry:           envString("SENGOO_EXTENSION_REGISTRY", "extensions.json"),
			UserFile:           envString("SENGOO_AUTH_USER_FILE", "users.tsv"),
			Whitelist:          envString("SENGOO_AUTH_WHITELIST_FILE", ""),
			BanIP:              envString("SENGOO_BAN_IP_FILE", ""),
			TempBanIP:          envString("SENGOO_TEMP_BAN_IP_FILE", ""),
			BanUUID:            envString("SENGOO_BAN_UUID_FILE", ""),
			BanWords:           envString("SENGOO_BAN_WORDS_FILE", ""),
			UUIDBinding:        envString("SENGOO_AUTH_UUID_BINDING_FILE", "uuid_bindings.tsv"),
			RSAPublicKey:       envString("SENGOO_RSA_PUBLIC_KEY_PATH", ""),
			RSAPrivateKey:      envString("SENGOO_AUTH_RSA_PRIVATE_KEY_PATH", ""),
			ExtensionCoreEntry: envString("SENGOO_EXTENSION_CORE_ENTRY", ""),
		},
		Server: ServerConfig{
			Capacity:         envInt("SENGOO_SERVER_CAPACITY", 500, 1, 1_000_000),
			DefaultAvatar:    envString("SENGOO_DEFAULT_AVATAR", "liubei"),
			DefaultPlayerID:  envInt("SENGOO_DEFAULT_PLAYER_ID", 0, 0, 1<<31-1),
			MOTD:             envString("SENGOO_MOTD", ""),
			Version:          envString("SENGOO_SERVER_VERSION", "0.5.19+"),
			Description:      envString("SENGOO_SERVER_DESCRIPTION", ""),
			IconURL:          envString("SENGOO_SERVER_ICON_URL", ""),
			MD5:              envString("SENGOO_SERVER_MD5", ""),
			FakeRSAPublicKey: envString("SENGOO_FAKE_RSA_PUBLIC_KEY", "-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n"),
			ExtensionRefresh: envDurationMS("SENGOO_EXTENSION_REFRESH_MS", 3000, 200, 600_000),
			MaxErrorCount:    envInt("SENGOO_MAX_ERROR_COUNT", 8, 1, 1_000_000),
		},
		Extension: ExtensionConfig{
			Bootstrap: envBool("SENGOO_EXTENSION_BOOTSTRAP", false),
			LuaExe:    envString("SENGOO_LUA_EXE", ""),
		},
		Admin: AdminConfig{
			Addr:     envString("SENGOO_ADMIN_HTTP_ADDR", ""),
			LogLevel: envString("SENGOO_LOG_LEVEL", "info"),
		},
	}
}

// Redacted returns a copy of cfg safe to log: paths to key material are
// kept (they are not secrets themselves), since nothing here currently
// carries an inline secret value.
func (c *Config) Redacted() *Config {
	cp := *c
	return &cp
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return def
	}
}

func envInt(name string, def, min, max int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return clampInt(n, min, max)
}

func envDurationMS(name string, defMS, minMS, maxMS int) time.Duration {
	ms := envInt(name, defMS, minMS, maxMS)
	return time.Duration(ms) * time.Millisecond
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
