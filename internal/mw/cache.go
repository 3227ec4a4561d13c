package mw

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a replayable successful GET response.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

func (s snapshot) replay(c *gin.Context) {
	dst := c.Writer.Header()
	for k, v := range s.header {
		dst[k] = v
	}
	c.Writer.WriteHeader(s.status)
	_, _ = c.Writer.Write(s.body)
	c.Abort()
}

// teeWriter copies the response body while it is written to the client.
type teeWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func succeeded(status int) bool {
	return status >= 200 && status < 300
}

// cacheKey scopes entries to the caller: a URI answers differently per branch.
func cacheKey(c *gin.Context) string {
	if actor, ok := ActorFrom(c); ok {
		return actor.ID + "|" + c.Request.RequestURI
	}
	return "|" + c.Request.RequestURI
}

// Cache serves repeated GETs from store for ttl. Any successful write flushes every entry,
// so no reader sees figures older than the last mutation. It must run after Auth.
//
// Each flush bumps a generation. A GET only stores its response when no flush happened
// while it ran.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	var (
		mu  sync.Mutex
		gen uint64
	)
	generation := func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		return gen
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			if succeeded(c.Writer.Status()) {
				mu.Lock()
				gen++
				store.Flush()
				mu.Unlock()
			}
			return
		}

		key := cacheKey(c)
		if hit, found := store.Get(key); found {
			hit.(snapshot).replay(c)
			return
		}

		started := generation()
		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee
		c.Next()

		if !succeeded(tee.Status()) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if gen == started {
			store.Set(key, snapshot{
				status: tee.Status(),
				header: tee.Header().Clone(),
				body:   bytes.Clone(tee.buf.Bytes()),
			}, ttl)
		}
	}
}
