package vault_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/vault"
)

const testSeed = "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabc"

func TestNew_EmptySecretRejected(t *testing.T) {
	_, err := vault.New("")
	require.ErrorIs(t, err, domain.ErrMissingMasterKey)
}

func TestNew_HexSecretUsedDirectlyAsKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	v, err := vault.New(hexKey)
	require.NoError(t, err)

	enc, err := v.Encrypt(testSeed)
	require.NoError(t, err)
	got, err := v.Decrypt(enc)
	require.NoError(t, err)
	require.Equal(t, testSeed, got)
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	v, err := vault.New("operator-secret-passphrase")
	require.NoError(t, err)

	enc, err := v.Encrypt(testSeed)
	require.NoError(t, err)
	require.NotEmpty(t, enc.CiphertextHex)
	require.NotEmpty(t, enc.IVHex)
	require.NotEmpty(t, enc.TagHex)

	got, err := v.Decrypt(enc)
	require.NoError(t, err)
	require.Equal(t, testSeed, got)
}

func TestEncrypt_RejectsInvalidSeedFormat(t *testing.T) {
	v, err := vault.New("operator-secret-passphrase")
	require.NoError(t, err)

	_, err = v.Encrypt("too-short")
	require.ErrorIs(t, err, domain.ErrInvalidSeedFormat)

	_, err = v.Encrypt(strings.Repeat("A", 55)) // uppercase, fails the lowercase-only pattern
	require.ErrorIs(t, err, domain.ErrInvalidSeedFormat)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	v1, err := vault.New("operator-secret-one")
	require.NoError(t, err)
	v2, err := vault.New("operator-secret-two")
	require.NoError(t, err)

	enc, err := v1.Encrypt(testSeed)
	require.NoError(t, err)

	_, err = v2.Decrypt(enc)
	require.ErrorIs(t, err, domain.ErrAEADFailure)
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	v, err := vault.New("operator-secret-passphrase")
	require.NoError(t, err)

	enc, err := v.Encrypt(testSeed)
	require.NoError(t, err)

	// Flip the leading hex digit so the ciphertext no longer decrypts under
	// its own tag.
	enc.CiphertextHex = "f" + enc.CiphertextHex[1:]

	_, err = v.Decrypt(enc)
	require.ErrorIs(t, err, domain.ErrAEADFailure)
}

func TestSecureOverwrite_ProducesDifferentRandomMaterialEachCall(t *testing.T) {
	o1, err := vault.SecureOverwrite()
	require.NoError(t, err)
	o2, err := vault.SecureOverwrite()
	require.NoError(t, err)

	require.NotEqual(t, o1.CiphertextHex, o2.CiphertextHex)
	require.Len(t, o1.IVHex, 24)  // 12 bytes hex-encoded
	require.Len(t, o1.TagHex, 32) // 16 bytes hex-encoded
}

// TestArchivedKeyCannotBeDecrypted exercises the archival invariant from
// spec.md §4.8: once an escrow_key row's material is replaced by
// SecureOverwrite, decrypting it must fail rather than ever recovering the
// original seed.
func TestArchivedKeyCannotBeDecrypted(t *testing.T) {
	v, err := vault.New("operator-secret-passphrase")
	require.NoError(t, err)

	original, err := v.Encrypt(testSeed)
	require.NoError(t, err)

	overwritten, err := vault.SecureOverwrite()
	require.NoError(t, err)
	require.NotEqual(t, original.CiphertextHex, overwritten.CiphertextHex)

	_, err = v.Decrypt(overwritten)
	require.Error(t, err)
}
