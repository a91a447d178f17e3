package repository

import (
	"fmt"
	"testing"

	"github.com/zalando/go-keyring"
)

// credentials_testing.go provides helpers for tests that exercise the real
// OS keyring. Each test gets its own service name, so test secrets never
// collide with production entries or with tests running in parallel, and
// every target touched is removed again through t.Cleanup.
//
// Example usage in tests:
//
//	func TestSomethingWithCredentials(t *testing.T) {
//	    testCM := repository.NewTestCredentialManager(t)
//	    if err := testCM.StorePassword("site", "secret"); err != nil {
//	        t.Fatal(err)
//	    }
//	    resolver.credentials = testCM.CredentialManager
//	}

// TestCredentialManager wraps CredentialManager with per-test isolation and
// automatic cleanup.
type TestCredentialManager struct {
	*CredentialManager
	testService string
	targets     map[string]struct{}
	t           *testing.T
}

// NewTestCredentialManager creates a credential manager bound to a unique
// keyring service for the running test. The test is skipped when no
// keyring is available.
func NewTestCredentialManager(t *testing.T) *TestCredentialManager {
	t.Helper()

	SetupTestKeyring(t)

	testService := fmt.Sprintf("deploysync-test-%s", t.Name())
	cm := &TestCredentialManager{
		CredentialManager: &CredentialManager{service: testService},
		testService:       testService,
		targets:           make(map[string]struct{}),
		t:                 t,
	}

	t.Cleanup(cm.Cleanup)
	return cm
}

// StorePassword stores the secret and remembers target for cleanup.
func (tcm *TestCredentialManager) StorePassword(target, secret string) error {
	tcm.targets[target] = struct{}{}
	return tcm.CredentialManager.StorePassword(target, secret)
}

// Cleanup removes every secret stored through this manager.
func (tcm *TestCredentialManager) Cleanup() {
	for target := range tcm.targets {
		if key, err := credentialKey(target); err == nil {
			_ = keyring.Delete(tcm.testService, key)
		}
	}
}

// SetupTestKeyring skips the test when the OS keyring cannot be written,
// which is the norm in CI containers without a Secret Service.
func SetupTestKeyring(t *testing.T) {
	t.Helper()

	testService := fmt.Sprintf("deploysync-keyring-test-%s", t.Name())
	testKey := "test_availability"

	if err := keyring.Set(testService, testKey, "test_value"); err != nil {
		t.Skipf("Keyring not available, skipping test: %v", err)
	}
	_ = keyring.Delete(testService, testKey)
}

// AssertPasswordStored fails the test unless target resolves to want.
func AssertPasswordStored(t *testing.T, cm *TestCredentialManager, target, want string) {
	t.Helper()

	got, err := cm.GetPassword(target)
	if err != nil {
		t.Fatalf("Expected password for %q to be stored, but got error: %v", target, err)
	}
	if got != want {
		t.Errorf("GetPassword(%q) = %q, want %q", target, got, want)
	}
}

// AssertPasswordNotStored fails the test if target has a stored password.
func AssertPasswordNotStored(t *testing.T, cm *TestCredentialManager, target string) {
	t.Helper()

	if cm.HasPassword(target) {
		t.Errorf("Expected no password for %q, but HasPassword returned true", target)
	}
	if _, err := cm.GetPassword(target); err == nil {
		t.Errorf("Expected error when getting missing password for %q, got nil", target)
	}
}
