package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealOpenKey(t *testing.T) {
	blob, err := SealKey("0x"+testKey, "hunter2", 1000)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKey)

	got, err := OpenKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = OpenKey(blob, "wrong")
	assert.Error(t, err)
}

func TestSealKey_RejectsBadInput(t *testing.T) {
	_, err := SealKey(testKey, "", 1000)
	assert.Error(t, err)
	_, err = SealKey("abcd", "pw", 1000)
	assert.Error(t, err)
}

func TestLoadRelayerSigner(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		s, err := LoadRelayerSigner(KeySource{RawPrivateKey: testKey}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.ChainID().Int64())
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := SealKey(testKey, "pw", 1000)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "relayer.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		fromFile, err := LoadRelayerSigner(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"}, 1)
		require.NoError(t, err)
		raw, err := NewSigner(testKey, 1)
		require.NoError(t, err)
		assert.Equal(t, raw.Address(), fromFile.Address())
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadRelayerSigner(KeySource{}, 1)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("garbage key", func(t *testing.T) {
		_, err := LoadRelayerSigner(KeySource{RawPrivateKey: "nothex"}, 1)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})
}

func TestRequestSigner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rs := NewRequestSigner("s3cret", time.Minute)
	rs.now = func() time.Time { return now }

	body := []byte(`{"orderId":"abc"}`)
	h := rs.Headers("POST", "/api/match", body)

	require.NoError(t, rs.Verify("POST", "/api/match", body, h[HeaderTimestamp], h[HeaderSignature]))

	err := rs.Verify("POST", "/api/match", []byte(`{"orderId":"xyz"}`), h[HeaderTimestamp], h[HeaderSignature])
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	stale := rs.HeadersAt("POST", "/api/match", body, now.Add(-2*time.Minute).Unix())
	err = rs.Verify("POST", "/api/match", body, stale[HeaderTimestamp], stale[HeaderSignature])
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	other := NewRequestSigner("different", time.Minute)
	other.now = rs.now
	forged := other.Headers("POST", "/api/match", body)
	err = rs.Verify("POST", "/api/match", body, forged[HeaderTimestamp], forged[HeaderSignature])
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
