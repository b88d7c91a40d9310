package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// Keys is the signing material for access tokens. Only the active kid signs;
// every key in Public verifies.
type Keys struct {
	Private   *rsa.PrivateKey
	Public    map[string]*rsa.PublicKey
	ActiveKID string
	Issuer    string
	Audience  string
}

func LoadKeys(cfg config.Auth) (*Keys, error) {
	if cfg.PrivateKeyPath == "" || cfg.KID == "" || cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("missing envs: AUTH_RSA_PRIVATE_PATH/AUTH_KID/AUTH_ISSUER/AUTH_AUDIENCE")
	}
	b, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	priv, err := ParsePrivateKey(b)
	if err != nil {
		return nil, err
	}
	return NewKeys(priv, cfg.KID, cfg.Issuer, cfg.Audience), nil
}

func NewKeys(priv *rsa.PrivateKey, kid, issuer, audience string) *Keys {
	return &Keys{
		Private:   priv,
		Public:    map[string]*rsa.PublicKey{kid: &priv.PublicKey},
		ActiveKID: kid,
		Issuer:    issuer,
		Audience:  audience,
	}
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 PEM.
func ParsePrivateKey(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("pem decode private key failed")
	}
	var pk any
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		pk = k
	} else if k8, err2 := x509.ParsePKCS8PrivateKey(block.Bytes); err2 == nil {
		pk = k8
	} else {
		return nil, fmt.Errorf("parse private key: %v / %v", err, err2)
	}
	priv, ok := pk.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return priv, nil
}

func (k *Keys) pub(kid string) (*rsa.PublicKey, bool) { p, ok := k.Public[kid]; return p, ok }
func signMethod() jwt.SigningMethod                   { return jwt.SigningMethodRS256 }
