// Package ltihttp exposes LTI 1.3 launch authentication and the tool's
// public key set over HTTP.
package ltihttp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/internal/logctx"
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")
)

// IDTokenField is the form field platforms post the id_token in.
const IDTokenField = "id_token"

const maxFormBytes = 64 << 10

// SuccessFunc receives every authenticated launch. It owns the response.
type SuccessFunc func(w http.ResponseWriter, r *http.Request, res auth.Result)

// WriteResult is the default SuccessFunc: it answers 200 with res as JSON.
func WriteResult(w http.ResponseWriter, _ *http.Request, res auth.Result) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// writeJSONError writes {"error":{"code":status,"message":msg}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// CallbackHandler receives the platform's launch form post, authenticates the
// id_token and passes the Result on. Every authentication failure is answered
// with the same 401 body; the cause is only logged.
type CallbackHandler struct {
	authn     auth.Authenticator
	onSuccess SuccessFunc
	log       *slog.Logger
}

var _ http.Handler = (*CallbackHandler)(nil)

// Option configures a handler in this package.
type Option func(*handlerConfig)

type handlerConfig struct {
	log       *slog.Logger
	onSuccess SuccessFunc
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *handlerConfig) { c.log = l }
}

// WithSuccess sets what happens after a launch is authenticated. The default
// is WriteResult.
func WithSuccess(fn SuccessFunc) Option {
	return func(c *handlerConfig) { c.onSuccess = fn }
}

func newHandlerConfig(opts []Option) handlerConfig {
	c := handlerConfig{onSuccess: WriteResult}
	for _, opt := range opts {
		opt(&c)
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.onSuccess == nil {
		c.onSuccess = WriteResult
	}
	return c
}

// NewCallbackHandler returns a handler authenticating launches with a.
func NewCallbackHandler(a auth.Authenticator, opts ...Option) *CallbackHandler {
	c := newHandlerConfig(opts)
	return &CallbackHandler{authn: a, onSuccess: c.onSuccess, log: c.log}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r = withRequestData(r)
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "launches must be posted")
		h.log.WarnContext(ctx, "callback.method.unsupported")
		return
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(formMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/x-www-form-urlencoded")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form body")
		h.log.WarnContext(ctx, "form.parse.fail", slog.String("err", err.Error()))
		return
	}
	idToken := r.PostForm.Get(IDTokenField)
	if idToken == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id_token")
		h.log.WarnContext(ctx, "callback.id_token.missing")
		return
	}

	res, err := h.authn.Authenticate(ctx, idToken)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		h.log.InfoContext(ctx, "auth.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "auth.ok",
		slog.String("user", res.Name),
		slog.Duration("dur", time.Since(start)),
	)
	h.onSuccess(w, r, res)
}

func withRequestData(r *http.Request) *http.Request {
	return r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	}))
}
