package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	goerrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CustomClaims is the body of an access token.
// The subject is the identity id, never the internal user id.
type CustomClaims struct {
	UniqueName string `json:"unique_name,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies RS256 access tokens.
type TokenManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	audience   string
	duration   time.Duration
	now        func() time.Time
}

func NewTokenManager(privateKey *rsa.PrivateKey, issuer, audience string, duration time.Duration) *TokenManager {
	return &TokenManager{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
		audience:   audience,
		duration:   duration,
		now:        time.Now,
	}
}

// Issue creates a signed token for an identity.
func (m *TokenManager) Issue(identityID uuid.UUID, userName string, role domain.Role) (string, error) {
	now := m.now()
	claims := &CustomClaims{
		UniqueName: userName,
		Role:       string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.privateKey)
}

// Validate checks signature, issuer, audience and expiry, then requires a subject and a role.
func (m *TokenManager) Validate(tokenString string) (contract.Principal, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return m.publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return contract.Principal{}, fmt.Errorf("%w: %v", errors.ErrAuthenticationRejected, err)
	}
	if !token.Valid {
		return contract.Principal{}, fmt.Errorf("%w: invalid token", errors.ErrAuthenticationRejected)
	}

	identityID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return contract.Principal{}, fmt.Errorf("%w: missing subject", errors.ErrAuthenticationRejected)
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return contract.Principal{}, fmt.Errorf("%w: missing role claim", errors.ErrAuthenticationRejected)
	}
	return contract.Principal{IdentityID: identityID, Role: role}, nil
}

// LoadOrCreateSigningKey reads a PKCS#1 or PKCS#8 private key from privatePath.
// When the file does not exist a 2048-bit key is generated and both halves are written.
func LoadOrCreateSigningKey(privatePath, publicPath string) (*rsa.PrivateKey, bool, error) {
	data, err := os.ReadFile(privatePath)
	switch {
	case err == nil:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s: %w", privatePath, err)
		}
		return key, false, nil
	case !goerrors.Is(err, fs.ErrNotExist):
		return nil, false, err
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, false, err
	}
	if err := writePEM(privatePath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return nil, false, err
	}
	if publicPath != "" {
		pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return nil, false, err
		}
		if err := writePEM(publicPath, "PUBLIC KEY", pub, 0o644); err != nil {
			return nil, false, err
		}
	}
	return key, true, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm)
}
