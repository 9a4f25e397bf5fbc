package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

const SignaturePrefix = "sha256="

const (
	CheckSignature = "signature"
	CheckTimestamp = "timestamp"
	CheckWhitelist = "whitelist"
)

// Service performs the inbound security checks. The zero value is usable; Now
// is injectable for tests.
type Service struct {
	Now func() time.Time
}

func New() *Service {
	return &Service{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ValidateSignature verifies header against HMAC-SHA256 of the raw, unparsed
// body keyed with secret. The header must carry the sha256=<hex> form; a
// malformed or missing header is a plain false, not an error. Comparison is
// constant-time.
func (s *Service) ValidateSignature(header string, body []byte, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	if !strings.HasPrefix(header, SignaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil || len(provided) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(provided, expected) == 1
}

// EnforceClockSkew reports whether timestamp (unix seconds) falls within
// tolerance of the current time, in either direction. A zero tolerance
// disables the check entirely; that escape hatch exists for local and test
// setups.
func (s *Service) EnforceClockSkew(timestamp int64, tolerance time.Duration) bool {
	if tolerance <= 0 {
		return true
	}
	now := s.now()
	delta := now.Sub(time.Unix(timestamp, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

// InWhitelist reports whether ip matches a whitelist of exact addresses and
// CIDR ranges. An empty whitelist disables the check. A malformed ip argument
// is a caller bug and returns an error; malformed whitelist entries are
// skipped as non-matching.
func (s *Service) InWhitelist(ip string, whitelist []string) (bool, error) {
	if len(whitelist) == 0 {
		return true, nil
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, fmt.Errorf("security: parse caller ip %q: %w", ip, err)
	}
	for _, entry := range whitelist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, parseErr := netip.ParsePrefix(entry)
			if parseErr != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true, nil
			}
			continue
		}
		exact, parseErr := netip.ParseAddr(entry)
		if parseErr != nil {
			continue
		}
		if exact == addr {
			return true, nil
		}
	}
	return false, nil
}

// ValidateInput carries everything ValidateAll needs. A check is configured
// when its inputs are present: Secret for signature, Tolerance > 0 for
// timestamp, a non-empty Whitelist for the IP check.
type ValidateInput struct {
	SignatureHeader string
	Body            []byte
	Secret          string
	Timestamp       int64
	Tolerance       time.Duration
	RemoteIP        string
	Whitelist       []string
}

// ValidateOutcome reports the result of every check independently so callers
// can tell which one failed. Valid is true only when every configured check
// passed; unconfigured checks report true and contribute nothing.
type ValidateOutcome struct {
	Valid  bool
	Checks map[string]bool
	Errors []string
}

// ValidateAll runs the three checks independently of one another.
func (s *Service) ValidateAll(in ValidateInput) (ValidateOutcome, error) {
	outcome := ValidateOutcome{
		Valid: true,
		Checks: map[string]bool{
			CheckSignature: true,
			CheckTimestamp: true,
			CheckWhitelist: true,
		},
	}

	if strings.TrimSpace(in.Secret) != "" {
		ok := s.ValidateSignature(in.SignatureHeader, in.Body, in.Secret)
		outcome.Checks[CheckSignature] = ok
		if !ok {
			outcome.Valid = false
			outcome.Errors = append(outcome.Errors, core.ErrorCodeInvalidSignature)
		}
	}

	if in.Tolerance > 0 {
		ok := s.EnforceClockSkew(in.Timestamp, in.Tolerance)
		outcome.Checks[CheckTimestamp] = ok
		if !ok {
			outcome.Valid = false
			outcome.Errors = append(outcome.Errors, core.ErrorCodeInvalidTimestamp)
		}
	}

	if len(in.Whitelist) > 0 {
		ok, err := s.InWhitelist(in.RemoteIP, in.Whitelist)
		if err != nil {
			return ValidateOutcome{}, err
		}
		outcome.Checks[CheckWhitelist] = ok
		if !ok {
			outcome.Valid = false
			outcome.Errors = append(outcome.Errors, core.ErrorCodeIPNotAllowed)
		}
	}

	return outcome, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
