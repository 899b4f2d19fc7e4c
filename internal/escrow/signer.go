package escrow

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"golang.org/x/crypto/sha3"
)

const (
	// validitySkew backdates validAfter so minor clock drift between the
	// gateway and the settlement chain never invalidates a fresh payment.
	validitySkew = 60 * time.Second

	defaultValidityWindow = 300
)

// Signer produces signed payment authorizations from the gateway funding
// account.
type Signer struct {
	key     *secp256k1.PrivateKey
	address string
}

// NewSigner parses a hex-encoded secp256k1 private key and derives the
// funding account address from it.
func NewSigner(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("funding key must be 32 bytes")
	}

	return newSignerFromKey(secp256k1.PrivKeyFromBytes(raw)), nil
}

func newSignerFromKey(key *secp256k1.PrivateKey) *Signer {
	pub := key.PubKey().SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)

	return &Signer{
		key:     key,
		address: "0x" + hex.EncodeToString(sum[12:]),
	}
}

// Address returns the funding account address payments are drawn from.
func (s *Signer) Address() string { return s.address }

type transferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

type signedPayload struct {
	Signature     string                `json:"signature"`
	Authorization transferAuthorization `json:"authorization"`
}

// SignPayment builds and signs a transfer authorization satisfying one
// accepted payment requirement.
func (s *Signer) SignPayment(req facilitatordomain.PaymentRequirements, now time.Time) (facilitatordomain.PaymentPayload, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return facilitatordomain.PaymentPayload{}, err
	}

	window := req.MaxTimeoutSeconds
	if window <= 0 {
		window = defaultValidityWindow
	}
	validAfter := now.Add(-validitySkew).Unix()
	validBefore := now.Add(time.Duration(window) * time.Second).Unix()

	auth := transferAuthorization{
		From:        s.address,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       "0x" + hex.EncodeToString(nonce),
	}

	digest := authorizationDigest(req, auth)
	compact := secpecdsa.SignCompact(s.key, digest, false)

	// SignCompact prefixes the recovery byte; the wire format wants R, S,
	// then V at the end.
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]

	inner, err := json.Marshal(signedPayload{
		Signature:     "0x" + hex.EncodeToString(sig),
		Authorization: auth,
	})
	if err != nil {
		return facilitatordomain.PaymentPayload{}, err
	}

	return facilitatordomain.PaymentPayload{
		X402Version: facilitatordomain.X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload:     inner,
	}, nil
}

// authorizationDigest hashes the authorization bound to the asset and
// network it pays on.
func authorizationDigest(req facilitatordomain.PaymentRequirements, auth transferAuthorization) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(req.Network))
	h.Write([]byte(req.Asset))
	h.Write([]byte(auth.From))
	h.Write([]byte(auth.To))
	h.Write([]byte(auth.Value))
	writeInt(h, auth.ValidAfter)
	writeInt(h, auth.ValidBefore)
	h.Write([]byte(auth.Nonce))
	return h.Sum(nil)
}

func writeInt(h interface{ Write([]byte) (int, error) }, value string) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		h.Write([]byte(value))
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

// EncodePaymentHeader serializes a payment payload for the X-PAYMENT
// request header.
func EncodePaymentHeader(payload facilitatordomain.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
