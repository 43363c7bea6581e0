package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pharmaflow-backend/pkg/redis"
)

const (
	idempotencyHeader       = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	// critical rules keep their records for ttl * criticalTTLMultiplier.
	criticalTTLMultiplier = 7
)

type routeMatcher func(string) bool

type idempotencyRule struct {
	method   string
	matcher  routeMatcher
	critical bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchExact("/api/v1/orders"), critical: true},
	{method: http.MethodPost, matcher: matchExact("/api/v1/payments/orders"), critical: true},
	{method: http.MethodPost, matcher: matchExact("/api/v1/payments/intents")},
	{method: http.MethodPost, matcher: matchExact("/api/v1/points/redeem"), critical: true},
	{method: http.MethodPost, matcher: matchExact("/api/v1/points/earn")},
	{method: http.MethodPost, matcher: matchExact("/api/v1/shipments")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/shipments/", "/cancel")},
	{method: http.MethodPost, matcher: matchExact("/api/v1/referrals")},
}

// storedResponse is what a first successful call leaves in redis. Body is
// []byte so encoding/json stores it base64 encoded.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

type replayer struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	logg  *logger.Logger
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the routes listed in idempotencyRules. Server errors are not stored so the
// client can retry them with the same key.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	rp := &replayer{store: store, ttl: ttl, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			critical, guarded := routeRule(r.Method, routePattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			rp.serve(w, r, next, critical)
		})
	}
}

func (rp *replayer) serve(w http.ResponseWriter, r *http.Request, next http.Handler, critical bool) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if clientKey == "" {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	digest := sha256.Sum256(body)
	requestHash := hex.EncodeToString(digest[:])
	key := rp.store.IdempotencyKey(requestScope(r), clientKey)

	prior, err := rp.lookup(ctx, key)
	if err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if prior != nil {
		if prior.RequestHash != requestHash {
			responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
			return
		}
		prior.replay(w)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		return
	}

	keep := rp.ttl
	if critical {
		keep *= criticalTTLMultiplier
	}
	rp.remember(ctx, key, storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
		RequestHash: requestHash,
	}, keep)
}

// lookup returns nil, nil when the key has not been seen.
func (rp *replayer) lookup(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := rp.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var prior storedResponse
	if err := json.Unmarshal([]byte(raw), &prior); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &prior, nil
}

// remember uses SetNX so a concurrent first call keeps its own record.
func (rp *replayer) remember(ctx context.Context, key string, resp storedResponse, ttl time.Duration) {
	payload, err := json.Marshal(resp)
	if err == nil {
		_, err = rp.store.SetNX(ctx, key, string(payload), ttl)
	}
	if err != nil && rp.logg != nil {
		rp.logg.Error(ctx, "persist idempotency record", err)
	}
}

func (s *storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(idempotencyReplayHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// requestScope keeps keys from colliding across users and endpoints.
func requestScope(r *http.Request) string {
	return UserIDFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	// Group middleware runs before the sub-router resolves, leaving a
	// wildcard pattern behind; fall back to the concrete path then.
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func routeRule(method, pattern string) (critical bool, ok bool) {
	if pattern == "" {
		return false, false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if rule.matcher(pattern) {
			return rule.critical, true
		}
	}
	return false, false
}

func matchExact(path string) routeMatcher {
	return func(pattern string) bool {
		return pattern == path
	}
}

func matchPrefixSuffix(prefix, suffix string) routeMatcher {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, suffix)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
