package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// SecretOpener decrypts a sealed snapshot.SecretRef back into its plaintext
// value. security.SecretsManager satisfies this structurally; the executor
// depends only on this narrow shape so it never imports pkg/manager.
type SecretOpener interface {
	OpenSecret(ref snapshot.SecretRef) ([]byte, error)
}

// materializeSecrets decrypts every ref in refs with opener and writes each
// one to its own file, named after the secret, under a fresh temporary
// directory — the directory registry.launch bind-mounts read-only at
// /run/secrets via runtime.SecretLauncher. The caller owns cleanup.
func materializeSecrets(opener SecretOpener, refs []snapshot.SecretRef) (string, error) {
	dir, err := os.MkdirTemp("", "fleetctl-secrets-*")
	if err != nil {
		return "", fmt.Errorf("create secrets directory: %w", err)
	}

	for _, ref := range refs {
		plaintext, err := opener.OpenSecret(ref)
		if err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("open secret %q: %w", ref.Name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, ref.Name), plaintext, 0o400); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("write secret %q: %w", ref.Name, err)
		}
	}
	return dir, nil
}
