package ltihttp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/ggoodman/lti13-go/assertion"
	"github.com/ggoodman/lti13-go/keys"
)

var (
	jwkSetMediaType = contenttype.NewMediaType("application/jwk-set+json")
	jwksMediaTypes  = []contenttype.MediaType{jwkSetMediaType, jsonMediaType}
)

const jwksCacheControl = "public, max-age=300"

// JWKSHandler publishes the public half of the tool's private key as a JWK
// set. The kid matches the one used in client assertions. The key file is
// read through the configured keys.Provider on every request, so a rotated
// key is served as soon as the provider sees it.
type JWKSHandler struct {
	keys    keys.Provider
	keyPath string
	log     *slog.Logger
}

var _ http.Handler = (*JWKSHandler)(nil)

// NewJWKSHandler serves the key at keyPath. A nil provider reads from disk.
func NewJWKSHandler(p keys.Provider, keyPath string, opts ...Option) *JWKSHandler {
	if p == nil {
		p = keys.DiskProvider{}
	}
	c := newHandlerConfig(opts)
	return &JWKSHandler{keys: p, keyPath: keyPath, log: c.log}
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = withRequestData(r)
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, jwksMediaTypes)
	if err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "acceptable types are application/jwk-set+json and application/json")
		h.log.WarnContext(ctx, "jwks.accept.unsupported")
		return
	}

	var set jose.JSONWebKeySet
	err = keys.With(ctx, h.keys, h.keyPath, func(keyText string) error {
		var err error
		set, err = assertion.PublicJWKS(keyText)
		return err
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "key set unavailable")
		h.log.ErrorContext(ctx, "jwks.build.fail", slog.String("err", err.Error()))
		return
	}
	body, err := json.Marshal(set)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "key set unavailable")
		h.log.ErrorContext(ctx, "jwks.encode.fail", slog.String("err", err.Error()))
		return
	}

	sum := sha256.Sum256(body)
	etag := fmt.Sprintf("%q", hex.EncodeToString(sum[:16]))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", jwksCacheControl)
	w.Header().Set("Vary", "Accept")
	if match := r.Header.Get("If-None-Match"); match == etag || match == "*" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", mt.String())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
	h.log.DebugContext(ctx, "jwks.served", slog.Int("keys", len(set.Keys)))
}
