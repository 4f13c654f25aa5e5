package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaltedSHA256HexDeterministic(t *testing.T) {
	got := SaltedSHA256Hex("secret", "deadbeef")
	want := SaltedSHA256Hex("secret", "deadbeef")
	if got != want {
		t.Fatalf("SaltedSHA256Hex not deterministic: %q != %q", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("digest length = %d, want 64", len(got))
	}
}

func TestVerifyPasswordSaltedInline(t *testing.T) {
	digest := SaltedSHA256Hex("secret", "abcd1234")
	u := User{StoredPassword: "sha256:abcd1234:" + digest}
	if !VerifyPassword(u, []byte("secret"), VerifyOptions{}) {
		t.Fatalf("expected match for correct password")
	}
	if VerifyPassword(u, []byte("wrong"), VerifyOptions{}) {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestVerifyPasswordSaltedColumn(t *testing.T) {
	digest := SaltedSHA256Hex("secret", "ff00ff00")
	u := User{StoredPassword: digest, Salt: "ff00ff00"}
	if !VerifyPassword(u, []byte("secret"), VerifyOptions{}) {
		t.Fatalf("expected match via separate salt column")
	}
}

func TestVerifyPasswordHexPrefix(t *testing.T) {
	u := User{StoredPassword: "hex:" + hexOf("secret")}
	if !VerifyPassword(u, []byte("secret"), VerifyOptions{}) {
		t.Fatalf("expected hex match")
	}
}

func TestVerifyPasswordPlaintext(t *testing.T) {
	u := User{StoredPassword: "secret"}
	if !VerifyPassword(u, []byte("secret"), VerifyOptions{}) {
		t.Fatalf("expected plaintext match")
	}
}

func hexOf(s string) string {
	const hextable = "0123456789abcdef"
	b := []byte(s)
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0xf]
	}
	return string(out)
}

func TestAuthenticateAutoRegister(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	svc, err := NewService(store, "", "", 50, true, true, VerifyOptions{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	u, registered, err := svc.Authenticate("alice", []byte("secret"), "u1", 1700000000)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Name != "alice" || u.ID != 1 {
		t.Fatalf("got %+v", u)
	}
	if !registered {
		t.Fatalf("expected registered=true for a brand new user")
	}

	rec, found, _, err := store.Lookup("alice")
	if err != nil || !found {
		t.Fatalf("Lookup after register: found=%v err=%v", found, err)
	}
	salt, digest, ok := parseInlineSalted(rec.StoredPassword)
	if !ok {
		t.Fatalf("stored password not in sha256:SALT:HEX form: %q", rec.StoredPassword)
	}
	if SaltedSHA256Hex("secret", salt) != digest {
		t.Fatalf("stored digest does not match salt+password")
	}

	count, err := store.CountUUIDBindings("u1")
	if err != nil || count != 1 {
		t.Fatalf("CountUUIDBindings = %d, %v, want 1, nil", count, err)
	}
}

func TestAuthenticateAutoRegisterStripsOversizePassword(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	svc, err := NewService(store, "", "", 50, true, true, VerifyOptions{PasswordStrip32: true})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	raw := []byte(strings.Repeat("a", 40) + "tail-secret")

	if _, _, err := svc.Authenticate("bob", raw, "u2", 1700000000); err != nil {
		t.Fatalf("register Authenticate: %v", err)
	}

	rec, found, _, err := store.Lookup("bob")
	if err != nil || !found {
		t.Fatalf("Lookup after register: found=%v err=%v", found, err)
	}
	salt, digest, ok := parseInlineSalted(rec.StoredPassword)
	if !ok {
		t.Fatalf("stored password not in sha256:SALT:HEX form: %q", rec.StoredPassword)
	}
	if SaltedSHA256Hex(string(raw[32:]), salt) != digest {
		t.Fatalf("stored digest should be hashed over the stripped candidate, not the full password")
	}

	// A later Setup with the same raw password must authenticate against
	// the credential registration just stored, not a freshly-registered
	// duplicate.
	u, registered, err := svc.Authenticate("bob", raw, "u2", 1700000100)
	if err != nil {
		t.Fatalf("relogin Authenticate: %v", err)
	}
	if registered {
		t.Fatalf("relogin should not re-register")
	}
	if u.Name != "bob" {
		t.Fatalf("got %+v", u)
	}
}

func TestAuthenticateIdempotentRelogin(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	svc, _ := NewService(store, "", "", 50, true, true, VerifyOptions{})

	if _, registered, err := svc.Authenticate("alice", []byte("secret"), "u1", 1700000000); err != nil || !registered {
		t.Fatalf("first Authenticate: registered=%v err=%v", registered, err)
	}
	if _, registered, err := svc.Authenticate("alice", []byte("secret"), "u1", 1700000001); err != nil || registered {
		t.Fatalf("second Authenticate: registered=%v err=%v, want registered=false", registered, err)
	}

	_, found1, maxID, _ := store.Lookup("alice")
	if !found1 || maxID != 1 {
		t.Fatalf("expected exactly one user row, maxID=%d", maxID)
	}
}

func TestAuthenticateBannedRejected(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	digest := SaltedSHA256Hex("secret", "aaaa0000")
	if err := store.Append(User{ID: 1, Name: "bob", StoredPassword: "sha256:aaaa0000:" + digest, Avatar: "liubei", Banned: true, BanExpireEpoch: 9999999999}); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	svc, _ := NewService(store, "", "", 50, true, true, VerifyOptions{})

	_, _, err := svc.Authenticate("bob", []byte("secret"), "u2", 1700000000)
	var banned *BannedError
	if err == nil {
		t.Fatalf("expected BannedError, got nil")
	}
	if be, ok := err.(*BannedError); ok {
		banned = be
	}
	if banned == nil {
		t.Fatalf("expected *BannedError, got %T: %v", err, err)
	}
}

func TestAuthenticateExpiredBanClearsAndAllows(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	digest := SaltedSHA256Hex("secret", "bbbb1111")
	if err := store.Append(User{ID: 1, Name: "carol", StoredPassword: "sha256:bbbb1111:" + digest, Avatar: "liubei", Banned: true, BanExpireEpoch: 1000}); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	svc, _ := NewService(store, "", "", 50, true, true, VerifyOptions{})

	u, _, err := svc.Authenticate("carol", []byte("secret"), "u3", 2000)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Banned {
		t.Fatalf("expected ban cleared")
	}

	rec, _, _, _ := store.Lookup("carol")
	if rec.Banned {
		t.Fatalf("ban not persisted as cleared")
	}
}

func TestAuthenticateWhitelistRejectsUnknownName(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	wlPath := filepath.Join(dir, "whitelist.txt")
	writeFile(t, wlPath, "alice\n")
	svc, err := NewService(store, wlPath, "", 50, true, true, VerifyOptions{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, _, err = svc.Authenticate("mallory", []byte("secret"), "u4", 1700000000)
	if err != ErrNotWhitelisted {
		t.Fatalf("err = %v, want ErrNotWhitelisted", err)
	}
}

func TestAuthenticateDeviceCapReached(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "users.tsv"), filepath.Join(dir, "bindings.tsv"))
	svc, _ := NewService(store, "", "", 1, true, true, VerifyOptions{})

	if _, _, err := svc.Authenticate("first", []byte("secret"), "shared-device", 1700000000); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	_, _, err := svc.Authenticate("second", []byte("secret"), "shared-device", 1700000000)
	if err != ErrDeviceCapReached {
		t.Fatalf("err = %v, want ErrDeviceCapReached", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
