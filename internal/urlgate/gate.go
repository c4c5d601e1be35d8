package urlgate

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// Rule names reported by SecurityError.
const (
	RuleMalformed        = "malformed_url"
	RuleScheme           = "scheme_not_allowed"
	RuleMissingHost      = "missing_host"
	RuleLoopback         = "loopback_address"
	RulePrivate          = "private_address"
	RuleLinkLocal        = "link_local_address"
	RuleUnspecified      = "unspecified_address"
	RuleMetadataHost     = "metadata_host"
	RuleInternalHostname = "internal_hostname"
)

// SecurityError reports why a URL was rejected.
type SecurityError struct {
	Rule   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("url rejected (%s): %s", e.Rule, e.Reason)
}

// IsSecurityError reports whether err was produced by the gate.
func IsSecurityError(err error) bool {
	var secErr *SecurityError
	return errors.As(err, &secErr)
}

var metadataHosts = map[string]struct{}{
	"169.254.169.254":            {},
	"169.254.170.2":              {},
	"100.100.100.200":            {},
	"metadata":                   {},
	"metadata.google.internal":   {},
	"metadata.azure.com":         {},
	"instance-data":              {},
	"instance-data.ec2.internal": {},
	"fd00:ec2::254":              {},
}

var internalSuffixes = []string{
	".internal",
	".local",
	".localhost",
	".localdomain",
	".lan",
	".intranet",
	".corp",
	".home.arpa",
}

// Validate rejects URLs that must never be fetched on behalf of a caller.
func Validate(raw string) error {
	u, err := parse(raw)
	if err != nil {
		return err
	}
	host := hostname(u)
	if host == "" {
		return &SecurityError{Rule: RuleMissingHost, Reason: "url has no host"}
	}

	if _, ok := metadataHosts[host]; ok {
		return &SecurityError{Rule: RuleMetadataHost, Reason: "cloud metadata host " + host + " is not allowed"}
	}
	if host == "localhost" {
		return &SecurityError{Rule: RuleLoopback, Reason: "localhost is not allowed"}
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return &SecurityError{Rule: RuleInternalHostname, Reason: "hostname " + host + " uses internal suffix " + suffix}
		}
	}

	if numericHost(host) {
		octets, ok := parseDottedQuad(host)
		if !ok {
			return &SecurityError{Rule: RuleMalformed, Reason: "numeric host " + host + " is not a plain dotted-quad address"}
		}
		return checkIPv4(host, octets)
	}
	if strings.Contains(host, ":") {
		return checkIPv6(host)
	}
	return nil
}

func parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &SecurityError{Rule: RuleMalformed, Reason: "url is empty"}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &SecurityError{Rule: RuleMalformed, Reason: err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		if scheme == "" {
			return nil, &SecurityError{Rule: RuleScheme, Reason: "url has no scheme"}
		}
		return nil, &SecurityError{Rule: RuleScheme, Reason: "scheme " + scheme + " is not allowed"}
	}
	return u, nil
}

func hostname(u *url.URL) string {
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func parseDottedQuad(host string) ([4]int, bool) {
	var out [4]int
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 || (len(p) > 1 && p[0] == '0') {
			return out, false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

func checkIPv4(host string, o [4]int) error {
	switch {
	case o[0] == 127:
		return &SecurityError{Rule: RuleLoopback, Reason: host + " is a loopback address"}
	case o[0] == 10:
		return &SecurityError{Rule: RulePrivate, Reason: host + " is in 10.0.0.0/8"}
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31:
		return &SecurityError{Rule: RulePrivate, Reason: host + " is in 172.16.0.0/12"}
	case o[0] == 192 && o[1] == 168:
		return &SecurityError{Rule: RulePrivate, Reason: host + " is in 192.168.0.0/16"}
	case o[0] == 169 && o[1] == 254:
		return &SecurityError{Rule: RuleLinkLocal, Reason: host + " is a link-local address"}
	case o[0] == 100 && o[1] >= 64 && o[1] <= 127:
		return &SecurityError{Rule: RulePrivate, Reason: host + " is in 100.64.0.0/10"}
	case o[0] == 0:
		return &SecurityError{Rule: RuleUnspecified, Reason: host + " is in 0.0.0.0/8"}
	}
	return nil
}

// numericHost reports whether host could be read as an IPv4 address in any
// notation resolvers accept (decimal, octal, hex, shorthand).
func numericHost(host string) bool {
	if host == "" {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		hex := strings.HasPrefix(label, "0x")
		digits, base := label, "0123456789"
		if hex {
			digits, base = label[2:], "0123456789abcdef"
		}
		if (digits == "" && !hex) || strings.Trim(digits, base) != "" {
			return false
		}
	}
	return true
}

// CheckAddr applies the address rules to a resolved IP. The fetcher runs it on
// every dialed connection, so names resolving to internal addresses are refused.
func CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	host := addr.String()
	if _, ok := metadataHosts[host]; ok {
		return &SecurityError{Rule: RuleMetadataHost, Reason: "cloud metadata address " + host + " is not allowed"}
	}
	if addr.Is4() {
		v4 := addr.As4()
		return checkIPv4(host, [4]int{int(v4[0]), int(v4[1]), int(v4[2]), int(v4[3])})
	}
	return checkIPv6(host)
}

func checkIPv6(host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return &SecurityError{Rule: RuleMalformed, Reason: "invalid ip literal " + host}
	}
	if addr.Is4In6() {
		v4 := addr.Unmap().As4()
		return checkIPv4(addr.Unmap().String(), [4]int{int(v4[0]), int(v4[1]), int(v4[2]), int(v4[3])})
	}
	switch {
	case addr.IsLoopback():
		return &SecurityError{Rule: RuleLoopback, Reason: host + " is a loopback address"}
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return &SecurityError{Rule: RuleLinkLocal, Reason: host + " is a link-local address"}
	case addr.IsPrivate():
		return &SecurityError{Rule: RulePrivate, Reason: host + " is a unique local address"}
	case addr.IsUnspecified():
		return &SecurityError{Rule: RuleUnspecified, Reason: host + " is unspecified"}
	}
	return nil
}
