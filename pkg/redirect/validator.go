package redirect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultMaxLength bounds the accepted redirect length
const DefaultMaxLength = 2048

// maxDecodePasses bounds repeated percent-decoding of relative targets
const maxDecodePasses = 3

var dangerousSchemes = []string{"javascript:", "vbscript:", "data:", "file:", "ftp:"}

// Config configures a Validator
type Config struct {
	// AllowedHosts holds exact hosts or "*.domain" wildcards
	AllowedHosts []string
	// AppURL and FrontendURL contribute their hosts to the allow-list
	AppURL        string
	FrontendURL   string
	AllowRelative bool
	RequireHTTPS  bool
	MaxLength     int
}

// DefaultConfig returns a config accepting relative targets only
func DefaultConfig() Config {
	return Config{
		AllowRelative: true,
		MaxLength:     DefaultMaxLength,
	}
}

// Validator is immutable and safe for concurrent use
type Validator struct {
	hosts         []string
	allowRelative bool
	requireHTTPS  bool
	maxLength     int
}

// New builds a Validator, seeding the allow-list from the configured hosts
// plus the app and frontend origins, deduplicated.
func New(cfg Config) *Validator {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}

	seen := make(map[string]struct{})
	var hosts []string
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	for _, h := range cfg.AllowedHosts {
		add(h)
	}
	add(hostOf(cfg.AppURL))
	add(hostOf(cfg.FrontendURL))

	return &Validator{
		hosts:         hosts,
		allowRelative: cfg.AllowRelative,
		requireHTTPS:  cfg.RequireHTTPS,
		maxLength:     cfg.MaxLength,
	}
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// AllowedHosts returns a copy of the effective allow-list
func (v *Validator) AllowedHosts() []string {
	return append([]string(nil), v.hosts...)
}

// Validate returns raw, trimmed of surrounding whitespace, when it is a
// safe redirect target and def otherwise
func (v *Validator) Validate(raw, def string) string {
	if def == "" {
		def = "/"
	}
	if err := v.check(raw); err != nil {
		return def
	}
	return strings.TrimSpace(raw)
}

// IsSafe reports whether raw would be accepted by Validate
func (v *Validator) IsSafe(raw string) bool {
	return v.check(raw) == nil
}

func (v *Validator) check(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("empty url")
	}
	if len(raw) > v.maxLength {
		return fmt.Errorf("url exceeds %d characters", v.maxLength)
	}
	if hasControlChars(raw) {
		return errors.New("control characters in url")
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range dangerousSchemes {
		if strings.HasPrefix(normalized, scheme) {
			return fmt.Errorf("dangerous scheme %s", scheme)
		}
	}

	if strings.HasPrefix(raw, "//") {
		return errors.New("protocol-relative url")
	}

	if strings.HasPrefix(raw, "/") && v.allowRelative {
		return checkRelative(raw)
	}

	return v.checkAbsolute(raw)
}

func checkRelative(raw string) error {
	if strings.Contains(raw, `\`) {
		return errors.New("backslash in relative url")
	}

	decoded := raw
	for i := 0; i < maxDecodePasses; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil {
			return fmt.Errorf("invalid escape: %w", err)
		}
		if next == decoded {
			break
		}
		decoded = next
		if strings.HasPrefix(decoded, "//") || strings.Contains(decoded, `\`) {
			return errors.New("encoded protocol-relative url")
		}
	}

	return nil
}

func (v *Validator) checkAbsolute(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("missing host")
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if v.requireHTTPS {
			return errors.New("https required")
		}
	case "":
		return errors.New("missing scheme")
	default:
		return fmt.Errorf("disallowed scheme %s", u.Scheme)
	}

	if !v.hostAllowed(host) {
		return fmt.Errorf("host %s not allowed", host)
	}

	return nil
}

func (v *Validator) hostAllowed(host string) bool {
	for _, allowed := range v.hosts {
		if domain, ok := strings.CutPrefix(allowed, "*."); ok {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func hasControlChars(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}
