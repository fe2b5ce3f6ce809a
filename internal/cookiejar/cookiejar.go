// Package cookiejar implements the replicator's CookieStore: an
// RFC 6265-inspired, thread-safe cookie jar scoped to a single remote,
// persisted as a reserved per-remote document.
package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-db/replicore/internal/revtree"
)

// Jar is a mutex-guarded cookie store for one remote. At most one cookie
// is kept per (name, domain, path); inserting an equal-keyed cookie
// replaces the prior one.
type Jar struct {
	mu      sync.Mutex
	cookies []revtree.Cookie
	dirty   bool
}

// New creates an empty jar.
func New() *Jar {
	return &Jar{}
}

// Parse interprets a Set-Cookie header value received from fromHost:
// the first token is name=value; subsequent
// semicolon-separated attributes set Domain, Path, Expires, Max-Age and
// Secure. Domain defaults to fromHost (exact match only) when absent; Path
// defaults to "/". Parse returns ok=false for a cookie the store must
// reject (empty name).
func Parse(header, fromHost string) (c revtree.Cookie, ok bool) {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return revtree.Cookie{}, false
	}
	nameValue := strings.TrimSpace(parts[0])
	eq := strings.IndexByte(nameValue, '=')
	if eq < 0 {
		return revtree.Cookie{}, false
	}
	name := strings.TrimSpace(nameValue[:eq])
	value := strings.TrimSpace(nameValue[eq+1:])
	if name == "" {
		return revtree.Cookie{}, false
	}

	c = revtree.Cookie{
		Name:   name,
		Value:  value,
		Domain: fromHost,
		Path:   "/",
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		k, v, hasVal := strings.Cut(attr, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "domain":
			if hasVal && v != "" {
				c.Domain = strings.TrimPrefix(v, ".")
			}
		case "path":
			if hasVal && v != "" {
				c.Path = v
			}
		case "secure":
			c.Secure = true
		case "expires":
			if hasVal {
				if t, err := time.Parse(time.RFC1123, v); err == nil {
					c.Expires = t
				}
			}
		case "max-age":
			if hasVal {
				if secs, err := strconv.Atoi(v); err == nil {
					if secs <= 0 {
						c.Expires = time.Unix(0, 0).Add(time.Second)
					} else {
						c.Expires = time.Now().Add(time.Duration(secs) * time.Second)
					}
				}
			}
		}
	}

	if !c.Valid() {
		return revtree.Cookie{}, false
	}
	return c, true
}

// sameKey reports whether two cookies share (name, domain, path).
func sameKey(a, b revtree.Cookie) bool {
	return a.Name == b.Name && a.Domain == b.Domain && a.Path == b.Path
}

// Insert replaces any cookie with an equal (name, domain, path) key and
// marks the jar dirty. A cookie with an empty value and an expiry in the
// past deletes the existing entry for its key instead of inserting.
func (j *Jar) Insert(c revtree.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	deleting := c.Value == "" && c.Persistent() && c.ExpiredAt(nowFunc())

	for i, existing := range j.cookies {
		if sameKey(existing, c) {
			if deleting {
				j.cookies = append(j.cookies[:i], j.cookies[i+1:]...)
			} else {
				j.cookies[i] = c
			}
			j.dirty = true
			return
		}
	}
	if !deleting {
		j.cookies = append(j.cookies, c)
		j.dirty = true
	}
}

// nowFunc is overridable in tests; defaults to time.Now.
var nowFunc = time.Now

// CookiesForRequest concatenates "name=value; ..." for every unexpired
// cookie matching address: host domain-matches (suffix with a dot
// boundary, or equality), the
// request path begins with the cookie path, and scheme respects Secure.
func (j *Jar) CookiesForRequest(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	secureScheme := u.Scheme == "https" || u.Scheme == "wss"
	now := nowFunc()

	j.mu.Lock()
	defer j.mu.Unlock()

	var parts []string
	for _, c := range j.cookies {
		if c.Persistent() && c.ExpiredAt(now) {
			continue
		}
		if !domainMatches(host, c.Domain) {
			continue
		}
		if !strings.HasPrefix(u.Path, c.Path) && u.Path != "" {
			if !pathMatches(u.Path, c.Path) {
				continue
			}
		}
		if c.Secure && !secureScheme {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; "), nil
}

func pathMatches(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	return strings.HasPrefix(requestPath, cookiePath)
}

func domainMatches(host, cookieDomain string) bool {
	if host == cookieDomain {
		return true
	}
	return strings.HasSuffix(host, "."+cookieDomain)
}

// Dirty reports whether the jar has been mutated since the last Clean.
func (j *Jar) Dirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dirty
}

// Clean clears the dirty flag; the caller invokes it after persisting the
// jar.
func (j *Jar) Clean() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dirty = false
}

// Snapshot returns a copy of the jar's current cookies, for encoding.
func (j *Jar) Snapshot() []revtree.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]revtree.Cookie, len(j.cookies))
	copy(out, j.cookies)
	return out
}
