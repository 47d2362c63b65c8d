package manager

import (
	"fmt"

	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// sealSecrets walks update's structural apps and sub-groups and encrypts
// every secret submitted with a PlaintextValue, so plaintext never reaches
// the raft log or the repository — only GroupManager holds the key needed
// to produce the ciphertext a stored AppSpec carries. ScaleBy and
// RevertVersion updates declare no new AppSpecs and pass through unchanged.
func (m *GroupManager) sealSecrets(update snapshot.GroupUpdate) (snapshot.GroupUpdate, error) {
	apps, err := m.sealAppSecrets(update.Apps)
	if err != nil {
		return update, err
	}
	groups, err := m.sealGroupSecrets(update.Groups)
	if err != nil {
		return update, err
	}
	update.Apps = apps
	update.Groups = groups
	return update, nil
}

func (m *GroupManager) sealGroupSecrets(defs []snapshot.GroupDef) ([]snapshot.GroupDef, error) {
	if len(defs) == 0 {
		return defs, nil
	}
	out := make([]snapshot.GroupDef, len(defs))
	for i, def := range defs {
		apps, err := m.sealAppSecrets(def.Apps)
		if err != nil {
			return nil, err
		}
		groups, err := m.sealGroupSecrets(def.Groups)
		if err != nil {
			return nil, err
		}
		def.Apps = apps
		def.Groups = groups
		out[i] = def
	}
	return out, nil
}

func (m *GroupManager) sealAppSecrets(apps []snapshot.AppSpec) ([]snapshot.AppSpec, error) {
	if len(apps) == 0 {
		return apps, nil
	}
	out := make([]snapshot.AppSpec, len(apps))
	for i, app := range apps {
		if len(app.Secrets) > 0 {
			secrets := make([]snapshot.SecretRef, len(app.Secrets))
			for j, ref := range app.Secrets {
				if len(ref.PlaintextValue) == 0 {
					secrets[j] = ref
					continue
				}
				sealed, err := m.secretsManager.SealSecret(ref.Name, ref.PlaintextValue)
				if err != nil {
					return nil, fmt.Errorf("seal secret %q for app %s: %w", ref.Name, app.Id, err)
				}
				secrets[j] = sealed
			}
			app.Secrets = secrets
		}
		out[i] = app
	}
	return out, nil
}
