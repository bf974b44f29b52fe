package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "crypto/sha256"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/travel-reservation/internal/config"
)

// IdempotencyHeader carries the client supplied retry key.
const IdempotencyHeader = "Idempotency-Key"

// pendingMarker is stored under the key while the first request runs.  It
// is shorter than any encoded payload so it never decodes as a response.
var pendingMarker = []byte("pend")

// captureWriter copies the response body and status while forwarding
// both to the client.  Bodies beyond limit are flagged as overflowed.
type captureWriter struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int
    overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
    cw.status = code
    cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.overflow {
        if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
            cw.overflow = true
            cw.buf.Reset()
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// storedResponse is what a finished request leaves under its key.  digest
// is the SHA-256 of the request body that produced it.
type storedResponse struct {
    status int
    header http.Header
    digest [sha256.Size]byte
    body   []byte
}

const recordPrefix = 8 + sha256.Size

// encodeResponse packs [4 bytes status][4 bytes header len][32 bytes request
// digest][header JSON][body].
func encodeResponse(r storedResponse) ([]byte, error) {
    hdr, err := json.Marshal(r.header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, recordPrefix+len(hdr)+len(r.body))
    binary.BigEndian.PutUint32(out[0:4], uint32(r.status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
    copy(out[8:recordPrefix], r.digest[:])
    copy(out[recordPrefix:], hdr)
    copy(out[recordPrefix+len(hdr):], r.body)
    return out, nil
}

func decodeResponse(bs []byte) (storedResponse, bool) {
    var r storedResponse
    if len(bs) < recordPrefix {
        return r, false
    }
    r.status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || recordPrefix+hlen > len(bs) {
        return r, false
    }
    copy(r.digest[:], bs[8:recordPrefix])
    r.header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[recordPrefix:recordPrefix+hlen], &r.header); err != nil {
            return r, false
        }
    }
    r.body = bs[recordPrefix+hlen:]
    return r, true
}

// bodyDigest hashes the request body and leaves an unread copy in place
// for the handler.
func bodyDigest(req *http.Request) ([sha256.Size]byte, error) {
    if req.Body == nil {
        return sha256.Sum256(nil), nil
    }
    raw, err := io.ReadAll(req.Body)
    _ = req.Body.Close()
    if err != nil {
        return [sha256.Size]byte{}, err
    }
    req.Body = io.NopCloser(bytes.NewReader(raw))
    return sha256.Sum256(raw), nil
}

func idempotencyKey(cfg config.IdempotencyConfig, c echo.Context, clientKey string) string {
    customer := CustomerID(c)
    if customer == "" {
        customer = "anon"
    }
    sum := sha1.Sum([]byte(c.Request().Method + " " + c.Path() + "\x00" + clientKey))
    return fmt.Sprintf("%s:%s:%x", cfg.Prefix, customer, sum[:])
}

// NewIdempotency makes retried requests carrying the same Idempotency-Key
// replay the first response instead of running the handler again.  The
// key is scoped to the customer and route.  While the first request is in
// flight a concurrent retry gets 409.  Server errors are not stored, so a
// retry after a 5xx runs again.  Requests without the header, and every
// request when Redis is unavailable, pass straight through.  Reusing a key
// with a different request body is rejected with 422.
func NewIdempotency(cfg config.IdempotencyConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    if log == nil {
        log = zap.NewNop()
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            clientKey := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
            if clientKey == "" {
                return next(c)
            }
            if len(clientKey) > 255 {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key too long"})
            }
            digest, err := bodyDigest(c.Request())
            if err != nil {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "request body could not be read"})
            }
            ctx := c.Request().Context()
            key := idempotencyKey(cfg, c, clientKey)

            acquired, err := rdb.SetNX(ctx, key, pendingMarker, cfg.LockTTL).Result()
            if err != nil {
                log.Warn("idempotency store unavailable", zap.Error(err))
                return next(c)
            }
            if !acquired {
                return replay(c, rdb, key, digest)
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = cw
            herr := next(c)

            // the request context may already be cancelled by the client
            bg := context.WithoutCancel(ctx)
            if herr != nil || cw.status >= http.StatusInternalServerError || cw.overflow {
                if err := rdb.Del(bg, key).Err(); err != nil {
                    log.Warn("idempotency key release failed", zap.String("key", key), zap.Error(err))
                }
                return herr
            }
            payload, err := encodeResponse(storedResponse{
                status: cw.status,
                header: c.Response().Header().Clone(),
                digest: digest,
                body:   cw.buf.Bytes(),
            })
            if err == nil {
                err = rdb.Set(bg, key, payload, cfg.TTL).Err()
            }
            if err != nil {
                log.Warn("idempotency response not stored", zap.String("key", key), zap.Error(err))
            }
            return nil
        }
    }
}

func replay(c echo.Context, rdb *redis.Client, key string, digest [sha256.Size]byte) error {
    bs, err := rdb.Get(c.Request().Context(), key).Bytes()
    if err == nil {
        if rec, ok := decodeResponse(bs); ok {
            if rec.digest != digest {
                return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "Idempotency-Key was already used with a different request body"})
            }
            for k, vals := range rec.header {
                if strings.EqualFold(k, echo.HeaderContentLength) {
                    continue
                }
                for _, v := range vals {
                    c.Response().Header().Add(k, v)
                }
            }
            c.Response().Header().Set("Idempotent-Replayed", "true")
            c.Response().WriteHeader(rec.status)
            _, err := c.Response().Write(rec.body)
            return err
        }
    }
    return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this Idempotency-Key is still in progress"})
}
