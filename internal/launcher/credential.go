package launcher

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mr-tron/base58"
)

// CredentialLength is the number of characters in a session credential. The
// remote framebuffer protocol only uses the first eight characters of a password.
const CredentialLength = 8

// GenerateCredential returns a new random session credential.
func GenerateCredential() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCredential, err)
	}

	encoded := base58.Encode(buf)
	if len(encoded) < CredentialLength {
		return "", fmt.Errorf("%w: short encoding", ErrCredential)
	}

	return encoded[:CredentialLength], nil
}

// passfilePath returns where the credential file for a session is written.
func (l *Launcher) passfilePath(sessionID string) string {
	return filepath.Join(l.profile.RunDir, "vncpass_"+sessionID)
}

// writeCredentialFile converts the plaintext credential with the passwd helper
// (reading the secret on stdin) and writes the result readable only by the owner.
func (l *Launcher) writeCredentialFile(ctx context.Context, sessionID, credential string) (string, error) {
	path := l.passfilePath(sessionID)

	// #nosec G204 - command comes from the operator supplied launch profile
	cmd := exec.CommandContext(ctx, l.profile.Desktop.PasswdCommand, l.profile.Desktop.PasswdArgs...)
	cmd.Stdin = bytes.NewBufferString(credential)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrCredential, err, stderr.String())
	}

	if err := os.WriteFile(path, output, 0o600); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrCredential, path, err)
	}

	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %w", ErrCredential, path, err)
	}

	return path, nil
}
