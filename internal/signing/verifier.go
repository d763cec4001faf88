// Package signing verifies trade authorship for trustless contests.
//
// A trade message is serialized into a canonical pipe-joined payload and
// signed with the player's wallet key (ed25519, the curve Solana wallets
// use). The wallet id doubles as the base58-encoded public key, so
// verification needs no key registry.
package signing

import (
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/solclash/contest-engine/internal/model"
)

// PayloadVersion is the only canonical payload version currently accepted.
const PayloadVersion = 1

// CanonicalPayload renders the message as the exact byte string that is
// signed. Field order is fixed; every field appears even when empty so the
// payload cannot be reinterpreted by shifting fields.
func CanonicalPayload(msg model.TradeMessage) []byte {
	fields := []string{
		strconv.Itoa(msg.Version),
		msg.ContestID,
		msg.Action,
		msg.Asset,
		string(msg.Side),
		strconv.FormatInt(msg.Leverage, 10),
		msg.Size.String(),
		strconv.FormatInt(msg.Timestamp, 10),
		msg.Nonce,
		msg.PositionID,
	}
	return []byte(strings.Join(fields, "|"))
}

// Verifier checks signatures, timestamp freshness and nonce uniqueness.
// Each accepted nonce is remembered for twice the clock tolerance so a
// replayed message is rejected even at the tolerance boundary.
type Verifier struct {
	// ClockTolerance bounds |now - msg.Timestamp|.
	ClockTolerance time.Duration

	now func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time // wallet|nonce → first seen
}

// NewVerifier creates a verifier with the given clock tolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	return &Verifier{
		ClockTolerance: tolerance,
		now:            time.Now,
		nonces:         make(map[string]time.Time),
	}
}

// Verify validates the message signature against the wallet's public key
// and returns the canonical payload that was signed. The checks run in
// order: version, structural fields, timestamp window, signature, nonce.
// The nonce is only consumed after the signature verifies, so a forged
// message cannot burn a legitimate nonce.
func (v *Verifier) Verify(wallet string, msg model.TradeMessage, signature []byte) ([]byte, error) {
	if msg.Version != PayloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", model.ErrSignature, msg.Version)
	}
	if msg.ContestID == "" || msg.Nonce == "" {
		return nil, fmt.Errorf("%w: missing contest id or nonce", model.ErrSignature)
	}
	switch msg.Action {
	case model.TradeOpen, model.TradeClose:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", model.ErrSignature, msg.Action)
	}

	now := v.now().UTC()
	ts := time.Unix(msg.Timestamp, 0).UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.ClockTolerance {
		return nil, fmt.Errorf("%w: timestamp outside ±%s window", model.ErrSignature, v.ClockTolerance)
	}

	pub, err := base58.Decode(wallet)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: wallet is not a valid public key", model.ErrSignature)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: malformed signature", model.ErrSignature)
	}

	payload := CanonicalPayload(msg)
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, signature) {
		return nil, fmt.Errorf("%w: signature does not match payload", model.ErrSignature)
	}

	if err := v.consumeNonce(wallet, msg.Nonce, now); err != nil {
		return nil, err
	}
	return payload, nil
}

// consumeNonce records the nonce, rejecting replays. Old entries are pruned
// opportunistically; anything older than twice the tolerance can no longer
// pass the timestamp check anyway.
func (v *Verifier) consumeNonce(wallet, nonce string, now time.Time) error {
	key := wallet + "|" + nonce

	v.mu.Lock()
	defer v.mu.Unlock()

	horizon := now.Add(-2 * v.ClockTolerance)
	for k, seen := range v.nonces {
		if seen.Before(horizon) {
			delete(v.nonces, k)
		}
	}

	if _, ok := v.nonces[key]; ok {
		return fmt.Errorf("%w: nonce already used", model.ErrSignature)
	}
	v.nonces[key] = now
	return nil
}

// Sign produces a signature over the canonical payload. Used by clients
// and tests.
func Sign(priv ed25519.PrivateKey, msg model.TradeMessage) []byte {
	return ed25519.Sign(priv, CanonicalPayload(msg))
}

// WalletID derives the base58 wallet id from a public key.
func WalletID(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}
