package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service name for OS credential store
const credentialService = "deploysync"

// ErrCredentialNotFound is returned when no secret is stored for a target.
var ErrCredentialNotFound = errors.New("no credential stored")

// CredentialManager stores remote passwords and access tokens in the OS
// credential store (macOS Keychain, Windows Credential Manager, Linux Secret
// Service). Secrets are keyed by target name, so each configured target
// can authenticate with its own credential.
type CredentialManager struct {
	service string
}

// NewCredentialManager creates a new credential manager instance
func NewCredentialManager() *CredentialManager {
	return &CredentialManager{
		service: credentialService,
	}
}

func credentialKey(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("target name cannot be empty")
	}
	return "remote/" + target, nil
}

// StorePassword securely stores the remote password or token for target,
// replacing any previous value.
func (cm *CredentialManager) StorePassword(target, secret string) error {
	key, err := credentialKey(target)
	if err != nil {
		return err
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(cm.service, key, secret); err != nil {
		return fmt.Errorf("failed to store password in credential store: %w", err)
	}
	return nil
}

// GetPassword retrieves the stored password for target.
//
// Returns:
//   - string: the stored secret
//   - error: ErrCredentialNotFound when nothing is stored, or a store failure
func (cm *CredentialManager) GetPassword(target string) (string, error) {
	key, err := credentialKey(target)
	if err != nil {
		return "", err
	}

	secret, err := keyring.Get(cm.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for target %q - run 'deploysync credentials set %s'", ErrCredentialNotFound, target, target)
		}
		return "", fmt.Errorf("failed to retrieve password from credential store: %w", err)
	}

	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("stored password for target %q is empty", target)
	}
	return secret, nil
}

// DeletePassword removes the stored password for target. Deleting a
// missing entry is not an error.
func (cm *CredentialManager) DeletePassword(target string) error {
	key, err := credentialKey(target)
	if err != nil {
		return err
	}
	err = keyring.Delete(cm.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from credential store: %w", err)
	}
	return nil
}

// HasPassword checks if a password is stored for target without returning it.
func (cm *CredentialManager) HasPassword(target string) bool {
	key, err := credentialKey(target)
	if err != nil {
		return false
	}
	_, err = keyring.Get(cm.service, key)
	return err == nil
}

// StoreStatus exercises the credential store with a throwaway entry and
// reports whether it is usable. Useful for `deploysync credentials status`
// on headless hosts where no Secret Service is running.
//
// Returns:
//   - map[string]any: "available" (bool) plus "error" or "warning" when relevant
func (cm *CredentialManager) StoreStatus() map[string]any {
	status := make(map[string]any)

	testKey := "deploysync_check"
	testValue := "check_value"

	if err := keyring.Set(cm.service, testKey, testValue); err != nil {
		status["available"] = false
		status["error"] = err.Error()
		return status
	}

	got, err := keyring.Get(cm.service, testKey)
	if err != nil {
		status["available"] = false
		status["error"] = err.Error()
		_ = keyring.Delete(cm.service, testKey)
		return status
	}
	if got != testValue {
		status["available"] = false
		status["error"] = "credential store corrupted - values don't match"
		_ = keyring.Delete(cm.service, testKey)
		return status
	}

	if err := keyring.Delete(cm.service, testKey); err != nil {
		status["available"] = true
		status["warning"] = "credential store works but cleanup failed: " + err.Error()
		return status
	}

	status["available"] = true
	status["error"] = nil
	return status
}
