package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
)

// ProbeTTL is how long an auth probe result stays cached.
const ProbeTTL = 30 * time.Second

// ProbeCache remembers auth probe results per provider. It is advisory only;
// runs always authenticate for themselves.
type ProbeCache struct {
	cache *freecache.Cache
	ttl   int
}

// ProbeResult is a cached probe outcome.
type ProbeResult struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"cached"`
	Error     string    `json:"error,omitempty"`
}

// NewProbeCache returns a cache with the default TTL.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{
		cache: freecache.NewCache(512 * 1024),
		ttl:   int(ProbeTTL / time.Second),
	}
}

// Probe returns the cached result for p or runs AuthProbe and caches it.
func (c *ProbeCache) Probe(ctx context.Context, p Provider) ProbeResult {
	key := []byte(p.Name())
	if raw, err := c.cache.Get(key); err == nil {
		if res, ok := decodeProbe(raw); ok {
			res.Cached = true
			return res
		}
	}

	res := ProbeResult{CheckedAt: time.Now()}
	ok, err := p.AuthProbe(ctx)
	res.OK = ok && err == nil
	if err != nil {
		res.Error = err.Error()
	}
	_ = c.cache.Set(key, encodeProbe(res), c.ttl)
	return res
}

// Forget drops the cached result for a provider, e.g. after a token change.
func (c *ProbeCache) Forget(name string) {
	c.cache.Del([]byte(name))
}

// encodeProbe packs a result as "<0|1>:<unix>:<error>".
func encodeProbe(res ProbeResult) []byte {
	flag := "0"
	if res.OK {
		flag = "1"
	}
	return []byte(flag + ":" + strconv.FormatInt(res.CheckedAt.Unix(), 10) + ":" + res.Error)
}

func decodeProbe(raw []byte) (ProbeResult, bool) {
	flag, rest, ok := strings.Cut(string(raw), ":")
	if !ok || (flag != "0" && flag != "1") {
		return ProbeResult{}, false
	}
	tsRaw, errMsg, ok := strings.Cut(rest, ":")
	if !ok {
		return ProbeResult{}, false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return ProbeResult{}, false
	}
	return ProbeResult{OK: flag == "1", CheckedAt: time.Unix(ts, 0), Error: errMsg}, true
}
