// Package ioc validates and normalizes indicators of compromise.
// All functions are pure; invalid candidates are filtered, never errors.
package ioc

import (
	"net/netip"
	"regexp"
	"strings"
)

// Kind is the external-facing indicator category.
type Kind string

const (
	KindIP          Kind = "ip"
	KindDomain      Kind = "domain"
	KindURL         Kind = "url"
	KindHash        Kind = "hash"
	KindFilePath    Kind = "file_path"
	KindProcessPath Kind = "process_path"
	KindCmdline     Kind = "cmdline"
	KindAccount     Kind = "account"
	KindEmail       Kind = "email"
)

// HashKind is the persistence-only hash sub-type. Reputation matching and API
// payloads always use the generic KindHash; only stored entity rows carry the
// sub-type.
type HashKind string

const (
	HashMD5    HashKind = "hash_md5"
	HashSHA1   HashKind = "hash_sha1"
	HashSHA256 HashKind = "hash_sha256"
)

var (
	domainRe = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$`)
	hexRe    = regexp.MustCompile(`^[a-fA-F0-9]+$`)
	emailRe  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidIP reports whether s is an IPv4 or IPv6 literal.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// ValidDomain reports whether s is a DNS name with conventional labels and an
// alphabetic TLD. Overall length is capped at 255 octets.
func ValidDomain(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	return domainRe.MatchString(s)
}

// ValidURL accepts only http and https URLs. This is a deliberately minimal
// syntactic gate; anything stricter rejects real sensor output.
func ValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidHash reports whether s is an MD5, SHA-1, or SHA-256 hex digest.
func ValidHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
		return hexRe.MatchString(s)
	default:
		return false
	}
}

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// HashKindOf returns the persistence sub-type for a hash that already passed
// ValidHash. The length gate upstream guarantees one of the three cases.
func HashKindOf(s string) HashKind {
	switch len(s) {
	case 32:
		return HashMD5
	case 40:
		return HashSHA1
	default:
		return HashSHA256
	}
}

// External reports whether ip is a public, routable address worth a
// reputation lookup. Private, loopback, link-local, multicast and otherwise
// non-global addresses are treated as internal.
func External(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !(addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified())
}
