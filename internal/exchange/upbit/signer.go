package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"premium_trader/internal/config"
)

// Signer signs requests with the exchange's JWT scheme: an HS256 token
// carrying the access key, a nonce, and a SHA512 hash of the request
// parameters.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a signer from API credentials.
func NewSigner(accessKey, secretKey config.Secret) *Signer {
	return &Signer{
		accessKey: accessKey.Reveal(),
		secretKey: secretKey.Reveal(),
	}
}

// SignRequest sets the Authorization header. Query parameters and JSON
// bodies both contribute to the query hash.
func (s *Signer) SignRequest(req *http.Request) error {
	query, err := canonicalQuery(req)
	if err != nil {
		return fmt.Errorf("build query hash: %w", err)
	}

	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secretKey))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// canonicalQuery flattens URL query parameters and any JSON body into
// the sorted key=value form the exchange hashes.
func canonicalQuery(req *http.Request) (string, error) {
	params := url.Values{}
	for k, vs := range req.URL.Query() {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		if len(raw) > 0 {
			var fields map[string]interface{}
			if err := json.Unmarshal(raw, &fields); err != nil {
				return "", err
			}
			for k, v := range fields {
				params.Add(k, fmt.Sprintf("%v", v))
			}
		}
	}

	if len(params) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range params[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&"), nil
}
