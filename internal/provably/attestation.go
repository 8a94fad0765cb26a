package provably

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
)

// AttestationHash computes
// SHA256("{source}|{pair}|{price:.8f}|{tick|0}|{epoch|0}|{source_ts}"),
// per spec.md §3. tick/epoch default to 0 when absent.
func AttestationHash(source, pair string, price float64, tick, epoch *uint32, sourceTS time.Time) string {
	var t, e uint32
	if tick != nil {
		t = *tick
	}
	if epoch != nil {
		e = *epoch
	}
	s := fmt.Sprintf("%s|%s|%.8f|%d|%d|%s", source, pair, price, t, e, sourceTS.UTC().Format(time.RFC3339Nano))
	return sha256Hex([]byte(s))
}

// SignAttestation computes HMAC-SHA256(attestation_hash, secretKey), hex
// encoded, binding a single oracle observation to the platform's secret so
// an observer can later confirm the platform itself vouched for it, per
// spec.md §3/§4.7.
func SignAttestation(attestationHash string, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(attestationHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildAttestation hashes and signs a fresh oracle observation, producing a
// ready-to-persist domain.OracleAttestation (CreatedAt/ID left for the
// store layer to fill in).
func BuildAttestation(marketID, source, pair string, price float64, tick, epoch *uint32, sourceTS time.Time, secretKey string) domain.OracleAttestation {
	hash := AttestationHash(source, pair, price, tick, epoch, sourceTS)
	sig := SignAttestation(hash, secretKey)

	return domain.OracleAttestation{
		MarketID:        marketID,
		Source:          source,
		Pair:            pair,
		Price:           price,
		Tick:            tick,
		Epoch:           epoch,
		SourceTS:        sourceTS,
		AttestationHash: hash,
		ServerSignature: sig,
	}
}

// VerifyAttestation recomputes the hash and HMAC for att and reports whether
// both match what is stored. A mismatch means either the row was tampered
// with or the secret key used to sign it has changed.
func VerifyAttestation(att domain.OracleAttestation, secretKey string) error {
	wantHash := AttestationHash(att.Source, att.Pair, att.Price, att.Tick, att.Epoch, att.SourceTS)
	if wantHash != att.AttestationHash {
		return fmt.Errorf("%w: attestation_hash mismatch", domain.ErrAttestationInvalid)
	}

	wantSig := SignAttestation(att.AttestationHash, secretKey)
	if !hmac.Equal([]byte(wantSig), []byte(att.ServerSignature)) {
		return fmt.Errorf("%w: server_signature mismatch", domain.ErrAttestationInvalid)
	}
	return nil
}
