package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/metrics"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// generationKey holds a per-user counter bumped on every write; cached
// entries embed it so a bump orphans all of them at once.
func generationKey(cfg config.CacheConfig, uid string) string {
	return cfg.Prefix + ":gen:" + uid
}

// cacheKeyFrom builds a stable key scoped to the caller and their current
// generation, honoring prefix/strategy for the rest.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, uid string, gen int64) string {
	r := c.Request()
	method := r.Method
	route := c.Path()
	query := r.URL.RawQuery

	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = append(parts, "route", route)
	case "method_route":
		parts = append(parts, "method", method, "route", route)
	case "method_route_query":
		parts = append(parts, "method", method, "route", route, "q", query)
	default: // "route_query"
		parts = append(parts, "route", route, "q", query)
	}

	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:u:%s:g%d:%x", cfg.Prefix, uid, gen, sum[:])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:8+len(hdrJSON)], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, hdr, bs[8+hlen:], true
}

// NewRedisCache caches successful responses per authenticated user. It must
// run after JWTAuth; anonymous requests bypass it. Headers and body are
// stored so a hit is byte-identical to the original response.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, authed := IdentityFrom(c)
			if !authed || !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				metrics.CacheResults.WithLabelValues("bypass").Inc()
				return next(c)
			}

			ctx := c.Request().Context()
			uid := strconv.FormatUint(id.UserID, 10)
			gen, err := rdb.Get(ctx, generationKey(cfg, uid)).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				logger.From(ctx).Warn("cache: generation lookup failed", zap.Error(err))
				metrics.CacheResults.WithLabelValues("bypass").Inc()
				return next(c)
			}
			key := cacheKeyFrom(cfg, c, uid, gen)

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						// Content-Length is recomputed by the server
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					metrics.CacheResults.WithLabelValues("hit").Inc()
					c.Response().WriteHeader(status)
					if len(body) > 0 {
						_, _ = c.Response().Write(body)
					}
					return nil
				}
			}

			metrics.CacheResults.WithLabelValues("miss").Inc()
			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}

			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
				_ = rdb.Set(context.WithoutCancel(ctx), key, payload, ttl).Err()
			}
			return nil
		}
	}
}

const cacheOwnersKey = "cache_owners"

// InvalidateCacheFor marks another user's cached responses as stale after a
// write that changed their data, such as an admin deleting their book.
// InvalidateUserCache bumps these along with the caller's.
func InvalidateCacheFor(c echo.Context, userID uint64) {
	ids, _ := c.Get(cacheOwnersKey).([]uint64)
	c.Set(cacheOwnersKey, append(ids, userID))
}

// invalidationTargets returns the caller and every marked user, deduplicated.
func invalidationTargets(c echo.Context) []string {
	var out []string
	seen := map[uint64]bool{}
	add := func(id uint64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, strconv.FormatUint(id, 10))
		}
	}
	if id, ok := IdentityFrom(c); ok {
		add(id.UserID)
	}
	ids, _ := c.Get(cacheOwnersKey).([]uint64)
	for _, id := range ids {
		add(id)
	}
	return out
}

// InvalidateUserCache bumps the cache generation of the caller, and of any
// user marked with InvalidateCacheFor, after every successful write so later
// reads miss.
func InvalidateUserCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return err
			}
			if err != nil || c.Response().Status >= 400 {
				return err
			}
			ctx := context.WithoutCancel(c.Request().Context())
			for _, uid := range invalidationTargets(c) {
				gk := generationKey(cfg, uid)
				if ierr := rdb.Incr(ctx, gk).Err(); ierr != nil {
					logger.From(ctx).Warn("cache: invalidation failed", zap.String("user_id", uid), zap.Error(ierr))
					continue
				}
				// generation outlives every entry written under it
				_ = rdb.Expire(ctx, gk, 24*time.Hour).Err()
			}
			return nil
		}
	}
}
