/*
Package security provides AES-256-GCM encryption for AppSpec secret
references.

SecretsManager holds a 32-byte key — either supplied directly or derived
from the cluster ID via DeriveKeyFromClusterID, which lets every manager
node in a raft cluster arrive at the same key without shipping it out of
band. SealSecret/OpenSecret work against snapshot.SecretRef, the type
carried on AppSpec.Secrets.

Each call to SealSecret draws a fresh random nonce and prepends it to the
ciphertext, so the same plaintext never produces the same EncryptedValue
twice and GCM's authentication tag catches any tampering on read.

# Usage

	sm, err := security.NewSecretsManager(security.DeriveKeyFromClusterID(clusterID))
	if err != nil {
		log.Fatal(err)
	}

	ref, err := sm.SealSecret("db-password", []byte("supersecret"))
	// ref is stored on an AppSpec.Secrets entry

	plaintext, err := sm.OpenSecret(ref)
*/
package security
