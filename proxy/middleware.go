package proxy

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makselll/rate-limiter/limiter"
	"github.com/makselll/rate-limiter/strategies"
)

// RateLimit returns gin middleware that evaluates every request against
// the limiter. Denied requests get a plain-text 429 naming the denying
// strategy; admitted requests continue to the proxy handler.
func RateLimit(lim *limiter.Limiter, bodyLimit int64) gin.HandlerFunc {
	bufferBody := lim.HasBodyStrategy()

	return func(c *gin.Context) {
		var body []byte
		if bufferBody {
			body = bufferRequestBody(c.Request, bodyLimit)
		}

		req := strategies.FromHTTP(c.Request, c.ClientIP(), body)
		decision := lim.Check(c.Request.Context(), req)

		if !decision.Allowed {
			requestsTotal.WithLabelValues("denied").Inc()
			denialsTotal.WithLabelValues(decision.DeniedBy.String()).Inc()
			c.String(http.StatusTooManyRequests, "rate limit exceeded by %s strategy", decision.DeniedBy)
			c.Abort()
			return
		}

		requestsTotal.WithLabelValues("admitted").Inc()
		if decision.FailedOpen {
			failOpenTotal.Inc()
		}
		c.Next()
	}
}

// bufferRequestBody reads up to limit bytes of the body so extractors can
// inspect it, and rewires the request so the upstream leg replays every
// byte, buffered or not. A body exceeding the limit yields nil, which the
// extractors treat as a miss.
func bufferRequestBody(r *http.Request, limit int64) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		r.Body = replayBody{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}
		return nil
	}

	r.Body = replayBody{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}
	if int64(len(data)) > limit {
		return nil
	}
	return data
}

// replayBody prepends already-buffered bytes to the unread remainder of
// the original body, keeping the original closer.
type replayBody struct {
	io.Reader
	io.Closer
}
