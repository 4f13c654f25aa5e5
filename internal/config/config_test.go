package config

import (
	"os"
	"testing"
	"time"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range kv {
			os.Unsetenv(k)
		}
	}()
	fn()
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Network.TCPPort != 9527 {
		t.Errorf("TCPPort = %d, want 9527", cfg.Network.TCPPort)
	}
	if cfg.Network.TickSleep != 20*time.Millisecond {
		t.Errorf("TickSleep = %v, want 20ms", cfg.Network.TickSleep)
	}
	if cfg.Server.DefaultAvatar != "liubei" {
		t.Errorf("DefaultAvatar = %q, want liubei", cfg.Server.DefaultAvatar)
	}
	if cfg.Auth.OpenSSLExe != "openssl" {
		t.Errorf("OpenSSLExe = %q, want openssl", cfg.Auth.OpenSSLExe)
	}
	if cfg.Admin.Addr != "" {
		t.Errorf("Admin.Addr = %q, want empty (disabled by default)", cfg.Admin.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"SENGOO_TCP_PORT":         "10000",
		"SENGOO_AUTH_ENFORCE_MD5": "true",
		"SENGOO_DEFAULT_AVATAR":   "zhugeliang",
	}, func() {
		cfg := Load()
		if cfg.Network.TCPPort != 10000 {
			t.Errorf("TCPPort = %d, want 10000", cfg.Network.TCPPort)
		}
		if !cfg.Auth.EnforceMD5 {
			t.Errorf("EnforceMD5 = false, want true")
		}
		if cfg.Server.DefaultAvatar != "zhugeliang" {
			t.Errorf("DefaultAvatar = %q, want zhugeliang", cfg.Server.DefaultAvatar)
		}
	})
}

func TestLoadClampsOutOfRange(t *testing.T) {
	withEnv(t, map[string]string{
		"SENGOO_MAX_ACCEPT_PER_TICK": "99999",
		"SENGOO_TICK_SLEEP_MS":       "0",
	}, func() {
		cfg := Load()
		if cfg.Network.MaxAcceptPerTick != 128 {
			t.Errorf("MaxAcceptPerTick = %d, want clamped to 128", cfg.Network.MaxAcceptPerTick)
		}
		if cfg.Network.TickSleep != time.Millisecond {
			t.Errorf("TickSleep = %v, want clamped to 1ms", cfg.Network.TickSleep)
		}
	})
}

func TestLoadUnknownBoolFallsBackToDefault(t *testing.T) {
	withEnv(t, map[string]string{
		"SENGOO_AUTH_USERDB_ENABLE": "maybe",
	}, func() {
		cfg := Load()
		if !cfg.Auth.UserDBEnable {
			t.Errorf("UserDBEnable = false, want default true for unrecognized value")
		}
	})
}

func TestLoadBooleanVariants(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"1", true}, {"true", true}, {"on", true}, {"yes", true},
		{"0", false}, {"false", false}, {"off", false}, {"no", false},
	}
	for _, tt := range tests {
		withEnv(t, map[string]string{"SENGOO_AUTH_ENFORCE_MD5": tt.val}, func() {
			cfg := Load()
			if cfg.Auth.EnforceMD5 != tt.want {
				t.Errorf("EnforceMD5 for %q = %v, want %v", tt.val, cfg.Auth.EnforceMD5, tt.want)
			}
		})
	}
}

func TestLoadUnparsableIntFallsBackToDefault(t *testing.T) {
	withEnv(t, map[string]string{
		"SENGOO_SERVER_CAPACITY": "not-a-number",
	}, func() {
		cfg := Load()
		if cfg.Server.Capacity != 500 {
			t.Errorf("Capacity = %d, want default 500", cfg.Server.Capacity)
		}
	})
}
