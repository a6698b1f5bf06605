// Package hostpattern compiles MySQL grant-table host strings into a
// matchable form. A host entry can be an exact IPv4 address, a dotted
// pattern with '%' wildcard octets ("10.0.%.%"), an address/netmask pair
// ("192.168.1.0/255.255.255.0") or a pattern with '_' single-character
// wildcards ("10.0.0._").
package hostpattern

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// MaxHostLen bounds externally sourced host strings before any processing.
const MaxHostLen = 253

// Kind tells how a compiled pattern matches.
type Kind int

const (
	// Any matches every address.
	Any Kind = iota
	// Network matches addresses whose leading Prefix bits equal Addr's.
	Network
	// Literal matches a resolved hostname character by character, '_'
	// standing for any single character. Used only when the source
	// pattern cannot be reduced to a network prefix.
	Literal
)

var ErrUnparseable = errors.New("host pattern is not a valid address or pattern")

// Pattern is a compiled host entry.
type Pattern struct {
	Kind   Kind
	Addr   netip.Addr // base address, Network kind only
	Prefix int        // leading bits that must match, always a multiple of 8
	Text   string     // source pattern, Literal kind only
}

// FromAddr builds the lookup-side pattern for an exact connecting address.
func FromAddr(addr netip.Addr) Pattern {
	return Pattern{Kind: Network, Addr: addr.Unmap(), Prefix: 32}
}

// FromHostname builds the lookup-side pattern for a reverse-resolved name.
func FromHostname(name string) Pattern {
	return Pattern{Kind: Literal, Text: name}
}

// Parse compiles a raw host string. A failure means the grant carrying the
// string is unusable; it is not fatal to the caller.
func Parse(host string) (Pattern, error) {
	if len(host) > MaxHostLen {
		return Pattern{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrUnparseable, host[:16]+"...", MaxHostLen)
	}
	if host == "%" {
		return Pattern{Kind: Any}, nil
	}
	// An address-shaped string with '_' wildcards (and no '%', the
	// combination is invalid in MySQL) cannot be expressed as a binary
	// network mask. Keep it verbatim for positional matching.
	if isAddressPattern(host) && hasSingleCharWildcard(host) {
		return Pattern{Kind: Literal, Text: host}, nil
	}

	text, prefix := normalize(host)
	addr, err := netip.ParseAddr(text)
	if err != nil || !addr.Is4() {
		return Pattern{}, fmt.Errorf("%w: %q", ErrUnparseable, host)
	}
	return Pattern{Kind: Network, Addr: addr, Prefix: prefix}, nil
}

// Match reports whether a lookup key satisfies a grant pattern. Lookup keys
// are built with FromAddr (prefix 32) or, on the reverse-DNS fallback path,
// FromHostname; the prefix comparison keeps any wider query key from
// matching a narrower grant.
func Match(query, grant Pattern) bool {
	switch grant.Kind {
	case Any:
		return true
	case Literal:
		return query.Kind == Literal && matchSingleCharWildcard(query.Text, grant.Text)
	case Network:
		if query.Kind != Network || query.Prefix < grant.Prefix {
			return false
		}
		return maskAddr(query.Addr, grant.Prefix) == maskAddr(grant.Addr, grant.Prefix)
	}
	return false
}

func maskAddr(addr netip.Addr, prefix int) netip.Addr {
	p, err := addr.Prefix(prefix)
	if err != nil {
		return netip.Addr{}
	}
	return p.Addr()
}

// matchSingleCharWildcard walks both strings; each grant character must
// equal the host's unless it is '_'. The walk stops at the end of the
// shorter string.
func matchSingleCharWildcard(host, wild string) bool {
	for i := 0; i < len(host) && i < len(wild); i++ {
		if host[i] != wild[i] && wild[i] != '_' {
			return false
		}
	}
	return true
}

// isAddressPattern reports whether the string consists solely of digits,
// dots and the MySQL wildcard characters.
func isAddressPattern(host string) bool {
	for i := 0; i < len(host); i++ {
		c := host[i]
		if (c < '0' || c > '9') && c != '.' && c != '_' && c != '%' {
			return false
		}
	}
	return host != ""
}

// hasSingleCharWildcard reports whether the string is an address pattern
// containing at least one '_' and nothing outside digits, dots and '_'.
func hasSingleCharWildcard(host string) bool {
	found := false
	for i := 0; i < len(host); i++ {
		c := host[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		if c != '_' {
			return false
		}
		found = true
	}
	return found
}

// normalize turns a dotted pattern with '%' wildcards into a parseable
// address string and its prefix length. Wildcard octets are zero-filled
// except the last one, which becomes 1 so the result stays a routable
// address; short forms such as "10.%" pad out to four octets. A token that
// is neither numeric nor "%" forces the original string through verbatim
// with prefix 32, leaving address validation to reject it.
func normalize(host string) (string, int) {
	merged, ok := mergeNetmask(host)
	if !ok {
		return host, 32
	}

	var b strings.Builder
	bits := 0
	octets := 0
	wildcard := false
	useOrig := false
	tokens := strings.Split(merged, ".")
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte('.')
		}
		if tok == "%" {
			wildcard = true
			if octets == 3 {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		} else {
			if !isNumeric(tok) {
				useOrig = true
			}
			b.WriteString(tok)
			bits += 8
		}
		octets++
	}
	if useOrig {
		return host, 32
	}
	if !wildcard {
		return b.String(), 32
	}
	for octets < 4 {
		octets++
		if octets == 4 {
			b.WriteString(".1")
		} else {
			b.WriteString(".0")
		}
	}
	return b.String(), bits
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// mergeNetmask folds an "address/netmask" host into wildcard form before
// tokenization: a 255 mask octet keeps the address octet, a 0 mask octet
// over a 0 address octet becomes '%'. Any other combination makes the
// string unmodifiable and the caller falls back to the verbatim path.
func mergeNetmask(host string) (string, bool) {
	addr, mask, found := strings.Cut(host, "/")
	if !found {
		return host, true
	}
	addrTokens := strings.Split(addr, ".")
	maskTokens := strings.Split(mask, ".")
	if len(addrTokens) != len(maskTokens) {
		return host, false
	}
	out := make([]string, len(addrTokens))
	for i := range addrTokens {
		switch {
		case maskTokens[i] == "255":
			out[i] = addrTokens[i]
		case maskTokens[i] == "0" && addrTokens[i] == "0":
			out[i] = "%"
		default:
			return host, false
		}
	}
	return strings.Join(out, "."), true
}
