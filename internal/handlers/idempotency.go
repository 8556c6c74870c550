package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/idempotency"
	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// IdempotencyStore is the subset of *idempotency.Store the middleware uses.
type IdempotencyStore interface {
	CreateIfNotExists(ctx context.Context, key, requestHash string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
	Reclaim(ctx context.Context, key string) (bool, error)
}

var _ IdempotencyStore = (*idempotency.Store)(nil)

// bodyRecorder keeps a copy of the response so it can be replayed.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent makes a create route safe to retry. Requests without an
// Idempotency-Key header, or with a nil store, pass straight through.
//
// The first request claims the key. A 2xx response is stored and replayed
// for later requests with the same key and body; any other outcome marks the
// key failed so a retry may reclaim it. A key still in flight is a Conflict.
func Idempotent(store IdempotencyStore, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if store == nil || key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, orders.Validation("body", "could not read request body: %v", err))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		scoped := idempotency.ScopedKey(c.Request.Method+" "+c.Request.URL.Path, key)
		hash := requestHash(body)

		created, err := store.CreateIfNotExists(ctx, scoped, hash)
		if err != nil {
			log.Error("idempotency claim failed", "key", scoped, "error", err)
			writeError(c, orders.Internal("idempotency check failed", err))
			return
		}
		if !created && !resume(c, store, scoped, hash, log) {
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// record the outcome even if the client has gone away
		bg := context.WithoutCancel(ctx)
		status := rec.Status()
		if status >= 200 && status < 300 {
			id := strconv.FormatInt(c.GetInt64(resourceIDKey), 10)
			if err := store.MarkDone(bg, scoped, id, rec.body.String(), status); err != nil {
				log.Warn("idempotency mark done failed", "key", scoped, "error", err)
			}
			return
		}
		if err := store.MarkFailed(bg, scoped, fmt.Sprintf("status %d", status)); err != nil {
			log.Warn("idempotency mark failed failed", "key", scoped, "error", err)
		}
	}
}

// resume handles a key that was already claimed. It reports whether the
// request should go on to the handler; otherwise a response has been written.
func resume(c *gin.Context, store IdempotencyStore, key, hash string, log *logger.Logger) bool {
	ctx := c.Request.Context()
	rec, err := store.Get(ctx, key)
	if err != nil {
		log.Error("idempotency lookup failed", "key", key, "error", err)
		writeError(c, orders.Internal("idempotency check failed", err))
		return false
	}
	if rec == nil {
		writeError(c, orders.Conflict("idempotency record vanished, retry the request", nil))
		return false
	}
	if rec.RequestHash != hash {
		writeError(c, orders.Validation(HeaderIdempotencyKey, "idempotency key was already used with a different request"))
		return false
	}

	switch rec.Status {
	case idempotency.StatusDone:
		status := rec.ResponseStatus
		if status == 0 {
			status = http.StatusOK
		}
		c.Header(HeaderReplayed, "true")
		c.Data(status, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		c.Abort()
		return false
	case idempotency.StatusFailed:
		ok, err := store.Reclaim(ctx, key)
		if err != nil {
			log.Error("idempotency reclaim failed", "key", key, "error", err)
			writeError(c, orders.Internal("idempotency check failed", err))
			return false
		}
		if ok {
			log.Info("retrying failed idempotent request", "key", key)
			return true
		}
	}
	writeError(c, orders.Conflict("a request with this idempotency key is still in progress", nil))
	return false
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
