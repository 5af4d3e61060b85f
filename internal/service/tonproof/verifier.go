package tonproof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xssnick/tonutils-go/address"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
)

var errStateInitMismatch = errors.New("state init hash differs from address")

// PublicKeyResolver reads a deployed wallet's public key from the chain.
type PublicKeyResolver interface {
	GetPublicKey(ctx context.Context, addr *address.Address) (ed25519.PublicKey, error)
}

// Domain is the app domain the wallet embedded in the proof.
type Domain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

// Proof is the ton_proof item returned by TonConnect.
type Proof struct {
	Timestamp int64  `json:"timestamp"`
	Domain    Domain `json:"domain"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	StateInit string `json:"state_init,omitempty"`
}

// VerifyRequest carries the wallet account and its proof.
type VerifyRequest struct {
	Address         string `json:"address"`
	Network         string `json:"network,omitempty"`
	PublicKey       string `json:"public_key,omitempty"`
	WalletStateInit string `json:"walletStateInit,omitempty"`
	Proof           Proof  `json:"proof"`
}

// Result of a successful verification.
type Result struct {
	Address   string
	PublicKey string
}

// Verifier checks TON Proof signatures against issued challenges.
type Verifier struct {
	challenges ChallengeStore
	domain     string
	maxSkew    time.Duration
	keys       PublicKeyResolver
	now        func() time.Time
	log        zerolog.Logger
}

// NewVerifier builds a verifier. keys may be nil, in which case proofs must
// carry a wallet StateInit.
func NewVerifier(challenges ChallengeStore, domain string, maxSkew time.Duration, keys PublicKeyResolver, log zerolog.Logger) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 15 * time.Minute
	}
	return &Verifier{
		challenges: challenges,
		domain:     domain,
		maxSkew:    maxSkew,
		keys:       keys,
		now:        time.Now,
		log:        log,
	}
}

// Issue hands out a new challenge.
func (v *Verifier) Issue(ctx context.Context) (*Challenge, error) {
	c, err := v.challenges.Issue(ctx)
	if err != nil {
		return nil, apperrors.Storage("issue challenge", err)
	}
	return c, nil
}

// Verify validates req and returns the proven wallet in canonical form.
func (v *Verifier) Verify(ctx context.Context, req *VerifyRequest) (*Result, error) {
	p := req.Proof
	if p.Domain.Value != v.domain || int(p.Domain.LengthBytes) != len(p.Domain.Value) {
		return nil, apperrors.ErrDomainMismatch.
			WithDetail("expected", v.domain).
			WithDetail("got", p.Domain.Value)
	}

	ts := time.Unix(p.Timestamp, 0)
	if p.Timestamp <= 0 || absDuration(v.now().Sub(ts)) > v.maxSkew {
		return nil, apperrors.ErrTimestampOutOfRange
	}

	live, err := v.challenges.Consume(ctx, p.Payload)
	if err != nil {
		return nil, apperrors.Storage("consume challenge", err)
	}
	if !live {
		return nil, apperrors.ErrPayloadExpired
	}

	addr, err := ParseAddress(req.Address)
	if err != nil {
		return nil, apperrors.ErrInvalidAddress
	}

	pub, err := v.resolveKey(ctx, req, addr)
	if err != nil {
		return nil, err
	}

	sig, err := decodeBase64(p.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, apperrors.ErrInvalidSignature
	}
	digest := SignedHash(addr, p.Domain.Value, uint64(p.Timestamp), p.Payload)
	if !ed25519.Verify(pub, digest, sig) {
		return nil, apperrors.ErrInvalidSignature
	}

	return &Result{Address: RawAddress(addr), PublicKey: hex.EncodeToString(pub)}, nil
}

func (v *Verifier) resolveKey(ctx context.Context, req *VerifyRequest, addr *address.Address) (ed25519.PublicKey, error) {
	stateInit := req.WalletStateInit
	if stateInit == "" {
		stateInit = req.Proof.StateInit
	}

	var pub ed25519.PublicKey
	switch {
	case stateInit != "":
		k, err := PublicKeyFromStateInit(stateInit, addr)
		if errors.Is(err, errStateInitMismatch) {
			return nil, apperrors.ErrStateInitMismatch
		}
		if err != nil {
			v.log.Debug().Err(err).Str("address", req.Address).Msg("state init rejected")
			return nil, apperrors.ErrPublicKeyUnavailable
		}
		pub = k
	case v.keys != nil:
		k, err := v.keys.GetPublicKey(ctx, addr)
		if err != nil {
			v.log.Warn().Err(err).Str("address", req.Address).Msg("get_public_key failed")
			return nil, apperrors.ErrPublicKeyUnavailable
		}
		pub = k
	default:
		return nil, apperrors.ErrPublicKeyUnavailable
	}

	if claimed := strings.TrimSpace(req.PublicKey); claimed != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(claimed, "0x"))
		if err != nil || !bytes.Equal(raw, pub) {
			return nil, apperrors.ErrPublicKeyMismatch
		}
	}
	return pub, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
