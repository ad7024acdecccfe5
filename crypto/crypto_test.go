package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "empty key", key: "", wantErr: "empty"},
		{name: "not base64", key: "!!!not-base64!!!", wantErr: "base64"},
		{name: "16 byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantErr: "32 bytes"},
		{name: "64 byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), wantErr: "32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			require.Error(t, err)
			assert.Nil(t, enc)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	plaintexts := map[string]string{
		"short":        "x",
		"oauth token":  "oauth:abcdefghijklmnopqrstuvwxyz0123456789",
		"long":         strings.Repeat("lurk", 2048),
		"unicode":      "ストリーム配信 🎥 čajník",
		"format chars": "a\tb\nc\x00d",
	}
	for name, pt := range plaintexts {
		t.Run(name, func(t *testing.T) {
			ct, err := enc.Encrypt([]byte(pt))
			require.NoError(t, err)
			assert.NotEqual(t, []byte(pt), ct)

			got, err := enc.Decrypt(ct)
			require.NoError(t, err)
			assert.Equal(t, pt, string(got))
		})
	}
}

func TestEncryptEmptyPlaintextRejected(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)
	_, err = enc.Encrypt(nil)
	assert.Error(t, err)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	first, err := enc.Encrypt([]byte("same refresh token"))
	require.NoError(t, err)
	second, err := enc.Encrypt([]byte("same refresh token"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first, second), "identical plaintexts must not share ciphertext")
}

func TestDecryptRejectsBadCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := enc.Decrypt(nil)
		assert.Error(t, err)
	})

	t.Run("shorter than nonce", func(t *testing.T) {
		_, err := enc.Decrypt([]byte{1, 2, 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too short")
	})

	t.Run("flipped bit", func(t *testing.T) {
		ct, err := enc.Encrypt([]byte("access-token-value"))
		require.NoError(t, err)
		ct[len(ct)/2] ^= 0x01
		_, err = enc.Decrypt(ct)
		assert.Error(t, err, "GCM must reject tampered ciphertext")
	})

	t.Run("truncated tag", func(t *testing.T) {
		ct, err := enc.Encrypt([]byte("access-token-value"))
		require.NoError(t, err)
		_, err = enc.Decrypt(ct[:len(ct)-4])
		assert.Error(t, err)
	})
}

func TestDecryptWrongKeyFails(t *testing.T) {
	encA, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)
	encB, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	ct, err := encA.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = encB.Decrypt(ct)
	assert.Error(t, err)
}

func TestStringHelpersRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	stored, err := EncryptString(enc, "oauth:refresh-me")
	require.NoError(t, err)
	// Text-column safe.
	_, err = base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)

	got, err := DecryptString(enc, stored)
	require.NoError(t, err)
	assert.Equal(t, "oauth:refresh-me", got)
}

func TestStringHelpersEmptyPassthrough(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	stored, err := EncryptString(enc, "")
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := DecryptString(enc, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecryptStringRejectsBadBase64(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)
	_, err = DecryptString(enc, "%%% definitely not base64 %%%")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
}

func TestCiphertextOverhead(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("0123456789")
	ct, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	// 12-byte GCM nonce prefix plus 16-byte auth tag.
	assert.Equal(t, len(plaintext)+28, len(ct))
}
