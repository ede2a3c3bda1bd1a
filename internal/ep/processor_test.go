package ep

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

func sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d", ts)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignatureAcceptsValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_700_000_000, 0)
	header := sign("whsec_test", now.Unix(), payload)

	err := verifySignature(payload, header, "whsec_test", now)

	assert.NoError(t, err)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_700_000_000, 0)
	header := sign("whsec_test", now.Unix(), payload)

	err := verifySignature(payload, header, "whsec_other", now)

	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.Signature))
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	signedAt := time.Unix(1_700_000_000, 0)
	header := sign("whsec_test", signedAt.Unix(), payload)
	now := signedAt.Add(10 * time.Minute)

	err := verifySignature(payload, header, "whsec_test", now)

	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.Signature))
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	err := verifySignature([]byte("{}"), "garbage", "whsec_test", time.Now())

	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.Signature))
}

func TestProbeObjectExtractsDiscriminator(t *testing.T) {
	kind, id, err := probeObject(json.RawMessage(`{"id":"ch_1","object":"charge","paid":true}`))

	require.NoError(t, err)
	assert.Equal(t, "charge", kind)
	assert.Equal(t, "ch_1", id)
}

func TestProbeObjectRejectsMissingDiscriminator(t *testing.T) {
	_, _, err := probeObject(json.RawMessage(`{"paid":true}`))

	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.Permanent))
}
