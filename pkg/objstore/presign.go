package objstore

import (
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// Operations a presigned token may grant.
const (
	OpGet = "get"
	OpPut = "put"
)

// presignClaims binds a token to one key and one operation.
type presignClaims struct {
	jwt.RegisteredClaims
	Key         string `json:"key"`
	Op          string `json:"op"`
	ContentType string `json:"ct,omitempty"`
	Filename    string `json:"fn,omitempty"`
	Inline      bool   `json:"inl,omitempty"`
}

// Grant is a verified presigned token.
type Grant struct {
	Key         string
	Op          string
	ContentType string
	Filename    string
	Inline      bool
	ExpiresAt   time.Time
}

// ContentDisposition returns the header value for a download grant.
func (g *Grant) ContentDisposition() string {
	if g.Filename == "" {
		return ""
	}
	kind := "attachment"
	if g.Inline {
		kind = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", kind, g.Filename)
}

// PresignOptions are optional attributes of a presigned URL.
type PresignOptions struct {
	TTL         time.Duration
	ContentType string
	// Filename and Inline control Content-Disposition on download.
	Filename string
	Inline   bool
}

// Presigner signs and verifies time-limited object URLs served under /objects/.
type Presigner struct {
	key        []byte
	publicURL  string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewPresigner creates a presigner. An empty key generates a random one,
// so URLs do not survive a restart.
func NewPresigner(signingKey, publicURL string, defaultTTL time.Duration) (*Presigner, error) {
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate presign key: %w", err)
		}
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Presigner{
		key:        key,
		publicURL:  strings.TrimRight(publicURL, "/"),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// PresignGet returns a download URL for key.
func (p *Presigner) PresignGet(key string, opts PresignOptions) (string, time.Time, error) {
	return p.sign(key, OpGet, opts)
}

// PresignPut returns an upload URL for key; the client sends the body with PUT.
func (p *Presigner) PresignPut(key string, opts PresignOptions) (string, time.Time, error) {
	return p.sign(key, OpPut, opts)
}

func (p *Presigner) sign(key, op string, opts PresignOptions) (string, time.Time, error) {
	if err := ValidateKey(key); err != nil {
		return "", time.Time{}, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = p.defaultTTL
	}
	now := p.now()
	expires := now.Add(ttl)

	claims := presignClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Key:         key,
		Op:          op,
		ContentType: opts.ContentType,
		Filename:    opts.Filename,
		Inline:      opts.Inline,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign object url: %w", err)
	}

	u := p.publicURL + "/objects/" + escapeKey(key) + "?token=" + url.QueryEscape(token)
	return u, expires, nil
}

// Verify checks that token grants op on key.
func (p *Presigner) Verify(token, key, op string) (*Grant, error) {
	if token == "" {
		return nil, errors.ErrKBInvalidPresign.WithMessage("missing token")
	}

	var claims presignClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return p.key, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if stderrors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.ErrKBInvalidPresign.WithMessage("signature expired")
		}
		return nil, errors.ErrKBInvalidPresign.WithCause(err)
	}
	if claims.Key != key || claims.Op != op {
		return nil, errors.ErrKBInvalidPresign.WithMessage("signature does not match object or operation")
	}

	g := &Grant{
		Key:         claims.Key,
		Op:          claims.Op,
		ContentType: claims.ContentType,
		Filename:    claims.Filename,
		Inline:      claims.Inline,
	}
	if claims.ExpiresAt != nil {
		g.ExpiresAt = claims.ExpiresAt.Time
	}
	return g, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
