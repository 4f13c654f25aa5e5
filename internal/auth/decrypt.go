package auth

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// OpenSSLDecryptor is the default Decryptor implementation: it shells
// out to an openssl-compatible executable, mirroring the original
// runtime's `<exe> pkeyutl -decrypt -inkey <key> -in <tmp> -out <tmp>`
// invocation. It MUST NOT block indefinitely, per the bootstrap
// collaborator contract this follows: a bounded context caps it well
// under one tick budget's tolerance for a blocking external call.
type OpenSSLDecryptor struct {
	Exe            string
	PrivateKeyPath string
	Timeout        time.Duration
}

// NewOpenSSLDecryptor constructs a decryptor. A zero Timeout defaults to
// 2 seconds.
func NewOpenSSLDecryptor(exe, privateKeyPath string, timeout time.Duration) *OpenSSLDecryptor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OpenSSLDecryptor{Exe: exe, PrivateKeyPath: privateKeyPath, Timeout: timeout}
}

// Decrypt implements Decryptor.
func (d *OpenSSLDecryptor) Decrypt(cipher []byte) (plain []byte, ok bool) {
	if d.Exe == "" || d.PrivateKeyPath == "" {
		return nil, false
	}

	inFile, err := os.CreateTemp("", "sengoo-rsa-in-*")
	if err != nil {
		return nil, false
	}
	defer os.Remove(inFile.Name())
	if _, err := inFile.Write(cipher); err != nil {
		inFile.Close()
		return nil, false
	}
	inFile.Close()

	outPath := inFile.Name() + ".out"
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Exe, "pkeyutl", "-decrypt",
		"-inkey", d.PrivateKeyPath, "-in", inFile.Name(), "-out", outPath)
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, false
	}
	return out, true
}
