package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/ledgermatch-backend/api/responses"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

// Small JSON auth bodies only; upload bodies are never buffered here.
const maxRateLimitBody = 64 << 10

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// subjectFunc names who a request counts against beyond its IP. body is nil unless the
// policy reads bodies.
type subjectFunc func(r *http.Request, body []byte) string

// RateLimitPolicy is a fixed window with a per-IP and a per-subject limit. A zero limit
// disables that counter.
type RateLimitPolicy struct {
	name         string
	window       time.Duration
	ipLimit      int
	subjectLimit int
	subjectKind  string
	readsBody    bool
	subject      subjectFunc
}

// EmailPolicy throttles login and registration by client IP and by the hashed email
// in the JSON body.
func EmailPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:         normalizePolicyName(name),
		window:       window,
		ipLimit:      ipLimit,
		subjectLimit: emailLimit,
		subjectKind:  "email",
		readsBody:    true,
		subject: func(_ *http.Request, body []byte) string {
			email := normalizeEmail(extractEmail(body))
			if email == "" {
				return ""
			}
			return hashValue(email)
		},
	}
}

// UserPolicy throttles authenticated routes, such as bank file uploads, by client IP
// and by the caller's user id. It must run after Auth.
func UserPolicy(name string, window time.Duration, ipLimit, userLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:         normalizePolicyName(name),
		window:       window,
		ipLimit:      ipLimit,
		subjectLimit: userLimit,
		subjectKind:  "user",
		subject: func(r *http.Request, _ []byte) string {
			return UserIDFromContext(r.Context())
		},
	}
}

func normalizePolicyName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "default"
	}
	return name
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.subjectLimit > 0)
}

func (p RateLimitPolicy) key(kind, value string) string {
	return fmt.Sprintf("rl:%s:%s:%s", p.name, kind, value)
}

// RateLimit enforces policy with counters kept in store.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ip := clientIP(r)
			if policy.ipLimit > 0 && ip != "" {
				if !check(w, r, logg, store, policy, "ip", ip, policy.ipLimit) {
					return
				}
			}

			if policy.subjectLimit > 0 {
				var body []byte
				if policy.readsBody {
					var err error
					body, err = io.ReadAll(io.LimitReader(r.Body, maxRateLimitBody))
					if err != nil {
						responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
						return
					}
					r.Body = io.NopCloser(bytes.NewReader(body))
				}
				if subject := policy.subject(r, body); subject != "" {
					if !check(w, r, logg, store, policy, policy.subjectKind, subject, policy.subjectLimit) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check counts one attempt and writes the rejection when the limit is exceeded.
func check(w http.ResponseWriter, r *http.Request, logg *logger.Logger, store rateLimiterStore, policy RateLimitPolicy, kind, value string, limit int) bool {
	ctx := r.Context()
	count, err := store.IncrWithTTL(ctx, policy.key(kind, value), policy.window)
	if err != nil {
		responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":         policy.name,
			"scope":          kind,
			"subject":        value,
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.window.Seconds()),
		}), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(policy.window.Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func extractEmail(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Email
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
