package assets

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/helm/settlement/pkg/identity"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const permitIssuer = "settlement/permit"

// PermitClaims authorize Spender to pull up to Value of the audience token
// from Owner. The token is signed by Owner's Ed25519 key.
type PermitClaims struct {
	jwt.RegisteredClaims
	Owner     substrate.Address `json:"owner"`
	Spender   substrate.Address `json:"spender"`
	Value     uint64            `json:"value,string"`
	Nonce     uint64            `json:"nonce,string"`
	PublicKey string            `json:"pub"`
}

// Permit is the unsigned input to SignPermit.
type Permit struct {
	Token    substrate.Address
	Spender  substrate.Address
	Value    uint64
	Nonce    uint64
	Deadline time.Time
}

// SignPermit signs p with key.
func SignPermit(key *identity.Key, p Permit) (string, error) {
	claims := PermitClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    permitIssuer,
			Audience:  jwt.ClaimStrings{string(p.Token)},
			ExpiresAt: jwt.NewNumericDate(p.Deadline),
		},
		Owner:     key.Address(),
		Spender:   p.Spender,
		Value:     p.Value,
		Nonce:     p.Nonce,
		PublicKey: key.PublicKeyHex(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("assets: sign permit: %w", err)
	}
	return signed, nil
}

// VerifyPermit checks the signature, the owner/key binding, the audience and
// the deadline of a permit token. It does not check the nonce.
func VerifyPermit(token string, audience substrate.Address, now time.Time) (PermitClaims, error) {
	const op = "assets.VerifyPermit"
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(string(audience)),
		jwt.WithIssuer(permitIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims PermitClaims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*PermitClaims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		raw, err := hex.DecodeString(c.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, errors.New("malformed permit public key")
		}
		pub := ed25519.PublicKey(raw)
		if identity.AddressFromPublicKey(pub) != c.Owner {
			return nil, errors.New("permit key does not belong to owner")
		}
		return pub, nil
	})
	if err != nil {
		return PermitClaims{}, protoerr.Wrap(protoerr.KindUnauthorized, op, err)
	}
	return claims, nil
}
