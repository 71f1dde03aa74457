package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aq2208/gorder-checkout/internal/logging"
)

const (
	bodyLogLimit = 8 * 1024
	maxBodyBytes = 1 << 20
	redacted     = "***redacted***"
	requestIDHdr = "X-Request-Id"
)

// sensitive keys are matched case-insensitively in JSON bodies, forms and query strings.
var sensitive = map[string]bool{
	"password":       true,
	"authorization":  true,
	"token":          true,
	"secret":         true,
	"paymenturl":     true,
	"vnp_securehash": true,
}

// capWriter tees the first bodyLogLimit bytes of the response.
type capWriter struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	truncated bool
}

func (w *capWriter) Write(b []byte) (int, error) {
	if room := bodyLogLimit - w.buf.Len(); room > 0 {
		if len(b) > room {
			w.buf.Write(b[:room])
			w.truncated = true
		} else {
			w.buf.Write(b)
		}
	} else if len(b) > 0 {
		w.truncated = true
	}
	return w.ResponseWriter.Write(b)
}

func scrub(x any) any {
	switch v := x.(type) {
	case map[string]any:
		for k, val := range v {
			if sensitive[strings.ToLower(k)] {
				v[k] = redacted
				continue
			}
			v[k] = scrub(val)
		}
	case []any:
		for i := range v {
			v[i] = scrub(v[i])
		}
	}
	return x
}

// redactJSON returns raw untouched when it is not valid JSON.
func redactJSON(raw []byte) string {
	var doc any
	if len(raw) == 0 || json.Unmarshal(raw, &doc) != nil {
		return string(raw)
	}
	b, err := json.Marshal(scrub(doc))
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func redactValues(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		if sensitive[strings.ToLower(k)] {
			out[k] = []string{redacted}
			continue
		}
		out[k] = vs
	}
	// url.Values.Encode sorts keys, which keeps log lines stable.
	s, _ := url.QueryUnescape(out.Encode())
	return s
}

func clip(s string, truncated bool) string {
	if len(s) > bodyLogLimit {
		s, truncated = s[:bodyLogLimit], true
	}
	if truncated {
		s += "...truncated..."
	}
	return s
}

// peekBody reads the request body and puts the full bytes back for handlers.
func peekBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw
}

// Logging returns a Gin middleware that logs request/response and injects a
// request-scoped slog.Logger into both gin.Context and the request context.
// Gateway callbacks arrive as query strings or forms, so those are logged
// too, with the signature removed.
func Logging(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHdr)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
			c.Request.Header.Set(requestIDHdr, reqID)
		}
		c.Header(requestIDHdr, reqID)

		l := base.With(
			"req_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(), // empty when no route matched
			"remote", c.ClientIP(),
		)
		logging.With(c, l)
		c.Request = c.Request.WithContext(logging.WithCtx(c.Request.Context(), l))

		attrs := make([]slog.Attr, 0, 8)
		if q := redactValues(c.Request.URL.Query()); q != "" {
			attrs = append(attrs, slog.String("query", q))
		}

		ct := c.ContentType()
		switch ct {
		case gin.MIMEJSON:
			if raw := peekBody(c.Request); len(raw) > 0 {
				attrs = append(attrs, slog.String("req_body", clip(redactJSON(raw), false)))
			}
		case gin.MIMEPOSTForm:
			if raw := peekBody(c.Request); len(raw) > 0 {
				if form, err := url.ParseQuery(string(raw)); err == nil {
					attrs = append(attrs, slog.String("req_form", clip(redactValues(form), false)))
				}
			}
		}

		w := &capWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		status := c.Writer.Status()
		attrs = append(attrs,
			slog.Int("status", status),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
			slog.Int("resp_bytes", c.Writer.Size()),
		)
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), gin.MIMEJSON) && w.buf.Len() > 0 {
			attrs = append(attrs, slog.String("resp_body", clip(redactJSON(w.buf.Bytes()), w.truncated)))
		}
		if len(c.Params) > 0 {
			attrs = append(attrs, slog.Any("params", c.Params))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		l.LogAttrs(c.Request.Context(), level, "http_request", attrs...)
	}
}
