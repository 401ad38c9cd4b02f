package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TrustedProxies lists the peers whose X-Forwarded-For header is believed.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts plain IPs and CIDR ranges.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		proxies = append(proxies, n)
	}
	return proxies, nil
}

func (t TrustedProxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request came from. X-Forwarded-For is only
// read when the peer is a trusted proxy; it is then walked from the right and
// the first hop that is not a trusted proxy wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.trusts(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !t.trusts(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	count int
	reset time.Time
}

// RateLimit allows each client at most limit requests per fixed window. A
// client's window opens with its first request and its count starts over
// once the window has passed.
func RateLimit(limit int, period time.Duration, message string, proxies TrustedProxies) func(http.Handler) http.Handler {
	return rateLimit(limit, period, message, proxies, time.Now)
}

func rateLimit(limit int, period time.Duration, message string, proxies TrustedProxies, now func() time.Time) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = make(map[string]*window)
		sweepAt time.Time
	)
	allow := func(ip string) (bool, time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		t := now()
		if !t.Before(sweepAt) {
			for k, w := range clients {
				if !t.Before(w.reset) {
					delete(clients, k)
				}
			}
			sweepAt = t.Add(period)
		}

		w, ok := clients[ip]
		if !ok || !t.Before(w.reset) {
			w = &window{reset: t.Add(period)}
			clients[ip] = w
		}
		if w.count >= limit {
			return false, w.reset.Sub(t)
		}
		w.count++
		return true, 0
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxies.ClientIP(r)
			ok, retry := allow(ip)
			if !ok {
				logrus.WithFields(logrus.Fields{"ip": ip, "path": r.URL.Path}).Warn("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
				writeMessage(w, http.StatusTooManyRequests, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
