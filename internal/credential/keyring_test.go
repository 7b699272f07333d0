package credential

import (
	"testing"

	"github.com/99designs/keyring"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(Config{
		ServiceName: "chorgi-test",
		Dir:         t.TempDir(),
		Password:    "test-password",
		Backends:    []keyring.BackendType{keyring.FileBackend},
	})
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return v
}

func TestSetGetDelete(t *testing.T) {
	v := openTestVault(t)

	if err := v.Set(GoogleClientSecretKey, "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get(GoogleClientSecretKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Get = %q, want %q", got, "s3cret")
	}

	if err := v.Delete(GoogleClientSecretKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Get(GoogleClientSecretKey); !IsNotFound(err) {
		t.Errorf("Get after delete err = %v, want not found", err)
	}
}

func TestResolve(t *testing.T) {
	v := openTestVault(t)

	got, err := v.Resolve("", GoogleClientSecretKey)
	if err != nil || got != "" {
		t.Errorf("Resolve on empty vault = %q, %v, want empty and nil", got, err)
	}

	if err := v.Set(GoogleClientSecretKey, "from-vault"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := v.Resolve("", GoogleClientSecretKey); got != "from-vault" {
		t.Errorf("Resolve = %q, want %q", got, "from-vault")
	}
	if got, _ := v.Resolve("from-config", GoogleClientSecretKey); got != "from-config" {
		t.Errorf("Resolve with value = %q, want %q", got, "from-config")
	}
}
