package extension

import (
	"testing"
	"time"
)

func TestExecBootstrapperMissingInterpreterFails(t *testing.T) {
	b := NewExecBootstrapper("", time.Second)
	if b.Bootstrap("core", "/tmp/entry.lua", "hash") {
		t.Fatalf("Bootstrap with empty interpreter should fail")
	}
}

func TestExecBootstrapperMissingEntryPathFails(t *testing.T) {
	b := NewExecBootstrapper("lua", time.Second)
	if b.Bootstrap("core", "", "hash") {
		t.Fatalf("Bootstrap with empty entry path should fail")
	}
}

func TestExecBootstrapperUnknownExeFails(t *testing.T) {
	b := NewExecBootstrapper("sengoo-lua-does-not-exist", time.Second)
	if b.Bootstrap("core", "/tmp/entry.lua", "hash") {
		t.Fatalf("Bootstrap with nonexistent interpreter should fail")
	}
	if b.Hook("core", "/tmp/entry.lua", "hash", "on_server_start") {
		t.Fatalf("Hook with nonexistent interpreter should fail")
	}
}
