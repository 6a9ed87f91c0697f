package security

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Wallet string `json:"wallet"`
	Total  string `json:"total"`
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewReportSigner(Options{SignatureValidity: time.Hour})
	require.NoError(t, err)

	signed, err := s.Sign(report{Wallet: "0xaa", Total: "1234.5"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signed.Signer)
	assert.NotZero(t, signed.ValidUntil)
	assert.NoError(t, s.Verify(signed))
	assert.NoError(t, VerifyReport(signed))
}

func TestTamperedPayloadFails(t *testing.T) {
	s, err := NewReportSigner(Options{})
	require.NoError(t, err)

	signed, err := s.Sign(report{Wallet: "0xaa", Total: "10"})
	require.NoError(t, err)

	signed.Payload = json.RawMessage(`{"wallet":"0xaa","total":"10000"}`)
	assert.ErrorIs(t, VerifyReport(signed), ErrHashMismatch)
}

func TestForgedSignerFails(t *testing.T) {
	a, err := NewReportSigner(Options{})
	require.NoError(t, err)
	b, err := NewReportSigner(Options{})
	require.NoError(t, err)

	signed, err := a.Sign(report{Wallet: "0xaa"})
	require.NoError(t, err)
	signed.Signer = b.Address()

	assert.ErrorIs(t, VerifyReport(signed), ErrWrongSigner)
}

func TestExpiredSignature(t *testing.T) {
	s, err := NewReportSigner(Options{SignatureValidity: time.Minute})
	require.NoError(t, err)

	signed, err := s.Sign(report{Wallet: "0xaa"})
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify(signed), ErrSignatureExpired)
}

func TestFixedKeyIsDeterministicAddress(t *testing.T) {
	const key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	a, err := NewReportSigner(Options{PrivateKeyHex: key})
	require.NoError(t, err)
	b, err := NewReportSigner(Options{PrivateKeyHex: key})
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = NewReportSigner(Options{PrivateKeyHex: "not-hex"})
	assert.Error(t, err)
}
