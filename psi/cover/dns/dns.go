// Package dns builds the byte-exact pieces of a DNS cover frame that the
// declarative PSF model can't express on its own: wire-format domain name
// packing, using github.com/miekg/dns's RFC 1035 message layer rather than
// a hand-rolled label writer.
package dns

import (
	miekgdns "github.com/miekg/dns"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// EncodeQName packs host as a DNS question name: length-prefixed labels
// terminated by a zero byte (RFC 1035 §4.1.2). An empty host packs to the
// root name, a single zero byte.
func EncodeQName(host string) ([]byte, error) {
	if host == "" {
		return []byte{0x00}, nil
	}
	buf := make([]byte, 255)
	n, err := miekgdns.PackDomainName(miekgdns.Fqdn(host), buf, 0, nil, false)
	if err != nil {
		return nil, errors.LibraryError("packing DNS qname " + host + ": " + err.Error())
	}
	return buf[:n], nil
}

// QNameMatches reports whether label bytes at the front of buf decode to
// host, used when validating a received query against the configured cover
// hostname during unwrap.
func QNameMatches(buf []byte, host string) bool {
	want, err := EncodeQName(host)
	if err != nil || len(buf) < len(want) {
		return false
	}
	for i := range want {
		if buf[i] != want[i] {
			return false
		}
	}
	return true
}
