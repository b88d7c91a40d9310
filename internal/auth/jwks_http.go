package auth

import (
	"encoding/base64"
	"math/big"
	"net/http"
	"sort"

	"github.com/KromaEnergia/contract-engine/internal/httpx"
)

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSHandler serves GET /.well-known/jwks.json.
func (k *Keys) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	kids := make([]string, 0, len(k.Public))
	for kid := range k.Public {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	resp := struct {
		Keys []jwk `json:"keys"`
	}{Keys: make([]jwk, 0, len(kids))}
	for _, kid := range kids {
		pub := k.Public[kid]
		resp.Keys = append(resp.Keys, jwk{
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			Kid: kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
