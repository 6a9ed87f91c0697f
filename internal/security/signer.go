// Package security signs balance reports so consumers can check that this
// service produced them and that they were not modified in transit.
package security

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSignatureExpired is returned for reports past their validity window
	ErrSignatureExpired = errors.New("signature expired")
	// ErrHashMismatch is returned when the payload does not hash to the signed digest
	ErrHashMismatch = errors.New("payload hash mismatch")
	// ErrWrongSigner is returned when the signature recovers to another address
	ErrWrongSigner = errors.New("signature from unexpected signer")
)

// Options configures a ReportSigner
type Options struct {
	// How long a signature stays valid, zero means forever
	SignatureValidity time.Duration `json:"signature_validity"`

	// Hex encoded secp256k1 key; an ephemeral key is generated when empty
	PrivateKeyHex string `json:"-"`
}

// SignedReport wraps a JSON payload with an Ethereum style signature over
// keccak256(payload).
type SignedReport struct {
	Payload    json.RawMessage `json:"payload"`
	Keccak256  string          `json:"keccak256"`
	Signature  string          `json:"signature"`
	Signer     string          `json:"signer"`
	SignedAt   int64           `json:"signedAt"`
	ValidUntil int64           `json:"validUntil,omitempty"`
}

// ReportSigner signs and verifies reports with a secp256k1 key
type ReportSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	opts    Options
	now     func() time.Time
}

// NewReportSigner creates a signer from opts.
func NewReportSigner(opts Options) (*ReportSigner, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if opts.PrivateKeyHex != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKeyHex, "0x"))
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	s := &ReportSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		opts:    opts,
		now:     time.Now,
	}
	logrus.Infof("Report signer initialized with address %s", s.address.Hex())
	return s, nil
}

// Address returns the signer's Ethereum address.
func (s *ReportSigner) Address() string {
	return s.address.Hex()
}

// Sign marshals payload and signs its keccak256 hash.
func (s *ReportSigner) Sign(payload interface{}) (SignedReport, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignedReport{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := crypto.Keccak256Hash(raw)
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return SignedReport{}, fmt.Errorf("failed to sign payload: %w", err)
	}

	now := s.now()
	report := SignedReport{
		Payload:   raw,
		Keccak256: hash.Hex(),
		Signature: hexutil.Encode(sig),
		Signer:    s.address.Hex(),
		SignedAt:  now.Unix(),
	}
	if s.opts.SignatureValidity > 0 {
		report.ValidUntil = now.Add(s.opts.SignatureValidity).Unix()
	}
	return report, nil
}

// Verify checks the hash, the validity window and that the signature
// recovers to the report's signer.
func (s *ReportSigner) Verify(report SignedReport) error {
	if report.ValidUntil > 0 && s.now().Unix() > report.ValidUntil {
		return fmt.Errorf("%w at %s", ErrSignatureExpired, time.Unix(report.ValidUntil, 0).UTC().Format(time.RFC3339))
	}
	return VerifyReport(report)
}

// VerifyReport checks a report's integrity without a signer instance. The
// validity window is not checked.
func VerifyReport(report SignedReport) error {
	hash := crypto.Keccak256Hash(report.Payload)
	if hash.Hex() != report.Keccak256 {
		return ErrHashMismatch
	}

	sig, err := hexutil.Decode(report.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); !strings.EqualFold(recovered.Hex(), report.Signer) {
		return fmt.Errorf("%w: %s", ErrWrongSigner, recovered.Hex())
	}
	return nil
}
