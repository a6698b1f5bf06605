package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

// Legacy flat-file cache format, kept readable and writable for
// migration. One record is
//
//	int32 user length, user bytes,
//	16-byte socket address blob (family, port, IPv4, padding),
//	int32 prefix length,
//	int32 database length (-1 none, 0 any, else the name), name bytes,
//	int32 credential length, credential bytes.
//
// All integers are little endian except the address, which stays in
// network byte order inside the blob.

// ErrUnrepresentable marks a grant the flat format cannot carry; the
// format has no field for single-character-wildcard host patterns.
var ErrUnrepresentable = errors.New("grant not representable in legacy format")

const (
	legacyAddrLen  = 16
	legacyFamily   = 2 // AF_INET
	legacyMaxField = 64 * 1024
)

type LegacyEncoder struct {
	w io.Writer
}

func NewLegacyEncoder(w io.Writer) *LegacyEncoder {
	return &LegacyEncoder{w: w}
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Encode writes one grant record. Literal host patterns return
// ErrUnrepresentable with nothing written.
func (e *LegacyEncoder) Encode(rec authcache.GrantRecord) error {
	if rec.Host.Kind == hostpattern.Literal {
		return ErrUnrepresentable
	}
	if err := writeBytes(e.w, []byte(rec.User)); err != nil {
		return err
	}

	var blob [legacyAddrLen]byte
	binary.LittleEndian.PutUint16(blob[0:2], legacyFamily)
	prefix := 0
	if rec.Host.Kind == hostpattern.Network {
		prefix = rec.Host.Prefix
		a4 := rec.Host.Addr.As4()
		copy(blob[4:8], a4[:])
	}
	if _, err := e.w.Write(blob[:]); err != nil {
		return err
	}
	if err := binary.Write(e.w, binary.LittleEndian, int32(prefix)); err != nil {
		return err
	}

	switch rec.Scope.Kind {
	case authcache.ScopeDenied:
		if err := binary.Write(e.w, binary.LittleEndian, int32(-1)); err != nil {
			return err
		}
	case authcache.ScopeAny:
		if err := writeBytes(e.w, nil); err != nil {
			return err
		}
	default:
		if err := writeBytes(e.w, []byte(rec.Scope.Name)); err != nil {
			return err
		}
	}
	return writeBytes(e.w, []byte(rec.Credential))
}

// WriteLegacy dumps a snapshot in the flat format. Records the format
// cannot carry are skipped and counted.
func WriteLegacy(w io.Writer, snap *authcache.Snapshot) (written, skipped int, err error) {
	enc := NewLegacyEncoder(w)
	snap.ForEach(func(rec authcache.GrantRecord) {
		if err != nil {
			return
		}
		switch encErr := enc.Encode(rec); {
		case errors.Is(encErr, ErrUnrepresentable):
			skipped++
		case encErr != nil:
			err = encErr
		default:
			written++
		}
	})
	return written, skipped, err
}

type LegacyDecoder struct {
	r   io.Reader
	buf []byte
}

func NewLegacyDecoder(r io.Reader) *LegacyDecoder {
	return &LegacyDecoder{r: r, buf: make([]byte, 256)}
}

func (d *LegacyDecoder) readBytes(length int32) ([]byte, error) {
	if length < 0 || length > legacyMaxField {
		return nil, fmt.Errorf("corrupt field length %d", length)
	}
	if int32(cap(d.buf)) < length {
		d.buf = make([]byte, length)
	} else {
		d.buf = d.buf[:length]
	}
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, err
	}
	return d.buf, nil
}

// Decode reads one record. A clean end of input returns io.EOF; anything
// truncated mid-record is an error.
func (d *LegacyDecoder) Decode() (authcache.GrantRecord, error) {
	var rec authcache.GrantRecord

	var userLen int32
	if err := binary.Read(d.r, binary.LittleEndian, &userLen); err != nil {
		return rec, err // io.EOF here is the normal end
	}
	data, err := d.readBytes(userLen)
	if err != nil {
		return rec, eofIsUnexpected(err)
	}
	rec.User = string(data)

	var blob [legacyAddrLen]byte
	if _, err := io.ReadFull(d.r, blob[:]); err != nil {
		return rec, eofIsUnexpected(err)
	}
	if family := binary.LittleEndian.Uint16(blob[0:2]); family != legacyFamily {
		return rec, fmt.Errorf("unsupported address family %d", family)
	}
	addr := netip.AddrFrom4([4]byte{blob[4], blob[5], blob[6], blob[7]})

	var prefix int32
	if err := binary.Read(d.r, binary.LittleEndian, &prefix); err != nil {
		return rec, eofIsUnexpected(err)
	}
	rec.Host, rec.HostRaw, err = hostFromNetwork(addr, int(prefix))
	if err != nil {
		return rec, err
	}

	var dbLen int32
	if err := binary.Read(d.r, binary.LittleEndian, &dbLen); err != nil {
		return rec, eofIsUnexpected(err)
	}
	switch {
	case dbLen == -1:
		rec.Scope = authcache.DeniedScope()
	case dbLen == 0:
		rec.Scope = authcache.AnyScope()
	default:
		data, err := d.readBytes(dbLen)
		if err != nil {
			return rec, eofIsUnexpected(err)
		}
		rec.Scope = authcache.ScopeForDB(string(data))
	}

	var credLen int32
	if err := binary.Read(d.r, binary.LittleEndian, &credLen); err != nil {
		return rec, eofIsUnexpected(err)
	}
	data, err = d.readBytes(credLen)
	if err != nil {
		return rec, eofIsUnexpected(err)
	}
	rec.Credential = string(data)
	return rec, nil
}

// ReadLegacy loads a whole flat file into a fresh snapshot.
func ReadLegacy(r io.Reader) (*authcache.Snapshot, error) {
	dec := NewLegacyDecoder(r)
	snap := authcache.NewSnapshot()
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			snap.SetLocalhostMatchWildcard(!snap.AnonymousSeen())
			return snap, nil
		}
		if err != nil {
			return nil, err
		}
		snap.Add(rec)
	}
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// hostFromNetwork rebuilds the pattern a stored (address, prefix) pair
// came from. The prefix walks in whole octets, so the source string is
// recoverable up to the wildcard octets' placeholder values.
func hostFromNetwork(addr netip.Addr, prefix int) (hostpattern.Pattern, string, error) {
	switch prefix {
	case 0, 8, 16, 24, 32:
	default:
		return hostpattern.Pattern{}, "", fmt.Errorf("corrupt prefix length %d", prefix)
	}
	if prefix == 0 {
		return hostpattern.Pattern{Kind: hostpattern.Any}, "%", nil
	}
	a4 := addr.As4()
	parts := make([]string, 4)
	for i := 0; i < 4; i++ {
		if i < prefix/8 {
			parts[i] = fmt.Sprintf("%d", a4[i])
		} else {
			parts[i] = "%"
		}
	}
	raw := strings.Join(parts, ".")
	pattern, err := hostpattern.Parse(raw)
	if err != nil {
		return hostpattern.Pattern{}, "", err
	}
	return pattern, raw, nil
}
