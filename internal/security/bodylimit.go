package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// BodyLimit buffers request bodies up to Max bytes. Larger bodies are
// answered with 413 in plain text; OnReject observes each rejection.
type BodyLimit struct {
	Max      int64
	OnReject func(*http.Request)
}

// Middleware rejects requests exceeding the configured limit.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > b.Max {
			b.reject(w, r)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		_ = r.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			common.Text(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if int64(len(buf)) > b.Max {
			b.reject(w, r)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func (b BodyLimit) reject(w http.ResponseWriter, r *http.Request) {
	if b.OnReject != nil {
		b.OnReject(r)
	}
	common.Text(w, http.StatusRequestEntityTooLarge, "Request entity too large")
}
