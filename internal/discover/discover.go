// Package discover locates a camera server on the local network by probing a
// well-known announce endpoint across candidate /24 ranges. It exists for
// phone-camera setups where the server address changes with every hotspot
// reconnect.
package discover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoServerFound = errors.New("discover: no camera server found")

// Config tunes one scan.
type Config struct {
	// Port the announce endpoint listens on.
	Port int
	// Path of the announce endpoint; a 200 response marks a hit.
	Path string
	// Ranges are /24 bases ("192.168.1") to sweep. When empty, the local
	// interface range plus common hotspot ranges are used.
	Ranges []string
	// Timeout bounds each individual probe.
	Timeout time.Duration
	// Workers bounds concurrent probes.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Port:    8080,
		Path:    "/discover",
		Timeout: time.Second,
		Workers: 50,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = def.Path
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}

// hotspotRanges are swept in addition to the local range; phone hotspots
// hand out addresses here far more often than home routers do.
var hotspotRanges = []string{"10.171.9", "172.20.10", "192.168.1"}

type Scanner struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Scanner {
	cfg = cfg.WithDefaults()
	return &Scanner{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logger,
	}
}

// Scan sweeps the candidate addresses and returns the first host whose
// announce endpoint answers 200. Probes run on a bounded worker pool and the
// remaining work is cancelled on the first hit.
func (s *Scanner) Scan(ctx context.Context) (string, error) {
	local := LocalIP()
	ranges := s.cfg.Ranges
	if len(ranges) == 0 {
		ranges = append([]string{networkBase(local)}, hotspotRanges...)
	}
	hosts := candidates(local, ranges)
	s.log.Info().
		Str("local_ip", local).
		Strs("ranges", ranges).
		Int("candidates", len(hosts)).
		Msg("scanning for camera server")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	hits := make(chan string, 1)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range jobs {
				if s.probe(scanCtx, host) {
					select {
					case hits <- host:
						cancel()
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, host := range hosts {
			select {
			case jobs <- host:
			case <-scanCtx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(hits)

	if host, ok := <-hits; ok {
		s.log.Info().Str("host", host).Msg("camera server found")
		return host, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNoServerFound
}

func (s *Scanner) probe(ctx context.Context, host string) bool {
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(host, fmt.Sprint(s.cfg.Port)), s.cfg.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		// Refused and timed-out probes are the normal case on a sweep.
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// candidates enumerates .1-.254 across the given /24 bases, skipping the
// local address and deduplicating overlapping ranges.
func candidates(local string, ranges []string) []string {
	seen := make(map[string]struct{}, len(ranges))
	var hosts []string
	for _, base := range ranges {
		base = strings.TrimSpace(strings.TrimSuffix(base, "."))
		if base == "" {
			continue
		}
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		for i := 1; i < 255; i++ {
			host := fmt.Sprintf("%s.%d", base, i)
			if host == local {
				continue
			}
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// LocalIP reports the preferred outbound address. No packets are sent; the
// UDP dial only selects a route.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "192.168.1.100"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "192.168.1.100"
	}
	return addr.IP.String()
}

// networkBase reduces an IPv4 address to its /24 base.
func networkBase(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return "192.168.1"
	}
	return strings.Join(parts[:3], ".")
}
