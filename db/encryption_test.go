package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"sync"
	"testing"
	"time"
)

// setEncryptionKey points the lazy global encryptor at key (empty disables
// encryption) and restores the previous state when the test ends.
func setEncryptionKey(t *testing.T, key string) {
	t.Helper()
	origKey, hadKey := os.LookupEnv("ENCRYPTION_KEY")
	if key == "" {
		os.Unsetenv("ENCRYPTION_KEY")
	} else {
		os.Setenv("ENCRYPTION_KEY", key)
	}
	encryptorOnce = sync.Once{}
	encryptor = nil
	encryptorErr = nil
	t.Cleanup(func() {
		if hadKey {
			os.Setenv("ENCRYPTION_KEY", origKey)
		} else {
			os.Unsetenv("ENCRYPTION_KEY")
		}
		encryptorOnce = sync.Once{}
		encryptor = nil
		encryptorErr = nil
	})
}

func randomKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestOAuthToken_EncryptedAtRest(t *testing.T) {
	dbx := testDB(t)
	ctx := context.Background()
	setEncryptionKey(t, randomKey(t))

	const provider = "test-enc-provider"
	expiry := time.Now().Add(time.Hour).UTC()
	if err := UpsertOAuthToken(ctx, dbx, provider, "access-secret", "refresh-secret", expiry, "chat:read"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	t.Cleanup(func() { dbx.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	// The raw column must not contain the plaintext.
	var rawAccess string
	var encVersion int
	if err := dbx.QueryRowContext(ctx,
		`SELECT access_token, encryption_version FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&rawAccess, &encVersion); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if encVersion != 1 {
		t.Errorf("encryption_version = %d, want 1", encVersion)
	}
	if rawAccess == "access-secret" {
		t.Error("access token stored in plaintext despite encryption key")
	}

	access, refresh, gotExpiry, scope, err := GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "access-secret" || refresh != "refresh-secret" {
		t.Errorf("decrypted tokens = %q/%q", access, refresh)
	}
	if scope != "chat:read" {
		t.Errorf("scope = %q", scope)
	}
	if gotExpiry.Sub(expiry).Abs() > time.Second {
		t.Errorf("expiry = %v, want %v", gotExpiry, expiry)
	}
}

func TestOAuthToken_PlaintextWithoutKey(t *testing.T) {
	dbx := testDB(t)
	ctx := context.Background()
	setEncryptionKey(t, "")

	const provider = "test-plain-provider"
	if err := UpsertOAuthToken(ctx, dbx, provider, "plain-access", "plain-refresh", time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	t.Cleanup(func() { dbx.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	var rawAccess string
	var encVersion int
	if err := dbx.QueryRowContext(ctx,
		`SELECT access_token, encryption_version FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&rawAccess, &encVersion); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if encVersion != 0 || rawAccess != "plain-access" {
		t.Errorf("raw = %q version = %d, want plaintext version 0", rawAccess, encVersion)
	}

	access, _, _, _, err := GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "plain-access" {
		t.Errorf("access = %q", access)
	}
}

func TestGetOAuthToken_Missing(t *testing.T) {
	dbx := testDB(t)
	access, refresh, expiry, scope, err := GetOAuthToken(context.Background(), dbx, "never-stored")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "" || refresh != "" || scope != "" || !expiry.IsZero() {
		t.Errorf("expected zero values, got %q %q %v %q", access, refresh, expiry, scope)
	}
}
