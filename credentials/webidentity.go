package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/delegate-go/exchange"
	"github.com/ggoodman/delegate-go/storage"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	webIdentityKeyBits = 2048

	// DefaultAssertionLifetime bounds how long a signed client assertion
	// stays valid.
	DefaultAssertionLifetime = 60 * time.Second
)

// WebIdentity authenticates the delegating service with a private key JWT
// client assertion (RFC 7523). The RSA signing key is loaded from, or
// created in, a storage backend so that every instance sharing the same
// backend and key id presents an identical public key.
type WebIdentity struct {
	store    storage.Storage
	keyID    string
	audience string
	lifetime time.Duration
	log      *slog.Logger

	mu  sync.RWMutex
	key *rsa.PrivateKey
}

// WebIdentityOption configures optional aspects of a WebIdentity.
type WebIdentityOption func(*WebIdentity)

// WithKeyID overrides the storage-derived key identifier. Instances that
// should share a signing key must agree on this value.
func WithKeyID(id string) WebIdentityOption {
	return func(w *WebIdentity) { w.keyID = id }
}

// WithAudience pins the assertion audience instead of discovering the
// authorization server's token endpoint per call.
func WithAudience(aud string) WebIdentityOption {
	return func(w *WebIdentity) { w.audience = aud }
}

// WithAssertionLifetime sets how long signed assertions stay valid.
func WithAssertionLifetime(d time.Duration) WebIdentityOption {
	return func(w *WebIdentity) { w.lifetime = d }
}

// WithWebIdentityLogger sets the logger used for key lifecycle events.
func WithWebIdentityLogger(log *slog.Logger) WebIdentityOption {
	return func(w *WebIdentity) { w.log = log }
}

// NewWebIdentity loads the signing key stored under the sanitized server
// name (or the WithKeyID override) from store, generating and persisting a
// new RSA key pair on first use.
func NewWebIdentity(ctx context.Context, serverName string, store storage.Storage, opts ...WebIdentityOption) (*WebIdentity, error) {
	if serverName == "" {
		return nil, fmt.Errorf("server name is required: %w", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("storage backend is required: %w", ErrConfiguration)
	}
	w := &WebIdentity{
		store:    store,
		keyID:    sanitizeKeyID(serverName),
		lifetime: DefaultAssertionLifetime,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if err := w.loadOrCreateKey(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// KeyID returns the identifier published as the JWKS kid and sent in the
// assertion header.
func (w *WebIdentity) KeyID() string { return w.keyID }

func (w *WebIdentity) storageKey() string { return "webidentity/" + w.keyID + ".pem" }

func (w *WebIdentity) loadOrCreateKey(ctx context.Context) error {
	item, err := w.store.Get(ctx, w.storageKey())
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}
	if item != nil {
		key, err := parsePrivateKeyPEM(item.Data)
		if err != nil {
			return fmt.Errorf("stored signing key is unusable: %w", err)
		}
		w.mu.Lock()
		w.key = key
		w.mu.Unlock()
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, webIdentityKeyBits)
	if err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding signing key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := w.store.Set(ctx, w.storageKey(), pemBytes); err != nil {
		return fmt.Errorf("persisting signing key: %w", err)
	}
	w.log.Info("generated web identity signing key", slog.String("kid", w.keyID))

	w.mu.Lock()
	w.key = key
	w.mu.Unlock()
	return nil
}

// JWKS returns the public key set matching the signing key.
func (w *WebIdentity) JWKS() jose.JSONWebKeySet {
	w.mu.RLock()
	pub := w.key.Public()
	w.mu.RUnlock()
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     w.keyID,
			Algorithm: "RS256",
			Use:       "sig",
		}},
	}
}

// JWKSHandler serves the public JWKS as JSON, suitable for mounting at a
// well-known path the authorization server can fetch.
func (w *WebIdentity) JWKSHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(w.JWKS()); err != nil {
			w.log.Warn("writing jwks response", slog.String("err", err.Error()))
		}
	})
}

func (w *WebIdentity) Prepare(ctx context.Context, client exchange.Client, subjectToken, resource string, info AuthInfo) (exchange.Request, error) {
	if info.ResourceClientID == "" {
		return exchange.Request{}, fmt.Errorf("resource client id is required for web identity assertions: %w", ErrConfiguration)
	}

	aud := w.audience
	if aud == "" {
		md, err := client.Metadata(ctx)
		if err != nil {
			return exchange.Request{}, fmt.Errorf("resolving assertion audience: %w", err)
		}
		aud = md.TokenEndpoint
	}

	assertion, err := w.signAssertion(info.ResourceClientID, aud)
	if err != nil {
		return exchange.Request{}, err
	}
	return exchange.Request{
		SubjectToken:        subjectToken,
		SubjectTokenType:    exchange.TokenTypeAccessToken,
		Resource:            resource,
		ClientAssertion:     assertion,
		ClientAssertionType: exchange.ClientAssertionTypeJWTBearer,
	}, nil
}

func (w *WebIdentity) signAssertion(clientID, audience string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(w.lifetime).Unix(),
		"jti": uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = w.keyID

	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return signed, nil
}

// pathedStorage is implemented by backends whose keys map to filesystem
// locations.
type pathedStorage interface {
	Path(key string) string
}

// WatchRotation reloads the signing key when the file backing it is
// replaced out of band. It requires a filesystem-backed store and runs
// until ctx is cancelled.
func (w *WebIdentity) WatchRotation(ctx context.Context) error {
	ps, ok := w.store.(pathedStorage)
	if !ok {
		return fmt.Errorf("storage backend does not expose file paths: %w", ErrConfiguration)
	}
	keyPath := ps.Path(w.storageKey())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting rotation watcher: %w", err)
	}
	// Watch the directory: editors and rotation tooling typically replace
	// the file, which drops inode-level watches.
	if err := watcher.Add(filepath.Dir(keyPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching key directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != keyPath || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := w.loadOrCreateKey(ctx); err != nil {
					w.log.Warn("reloading rotated signing key",
						slog.String("kid", w.keyID),
						slog.String("err", err.Error()))
					continue
				}
				w.log.Info("reloaded rotated signing key", slog.String("kid", w.keyID))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("rotation watcher error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}

var _ Supplier = (*WebIdentity)(nil)

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older persisted keys may use the PKCS1 encoding.
		if key, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return key, nil
		}
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}

func sanitizeKeyID(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
