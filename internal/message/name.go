// Package message implements the DNS wire codec: name compression,
// message header/section framing, and truncation-chain merging, per
// RFC 1035 §3-§4 and RFC 6762 §18.
package message

import (
	"strings"

	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/werrors"
)

// ParseName decodes a DNS name starting at offset within data,
// following compression pointers per RFC 1035 §4.1.4.
//
// Cycle guard: the decoder remembers the lowest offset it has ever
// jumped to via a pointer. A later pointer that resolves to an offset
// greater than or equal to that value fails with CircularNameError.
// This is stricter than RFC 1035 (which only forbids forward
// pointers) but matches the reference responder's behavior and is
// retained for Bonjour test-vector parity.
//
// The returned offset is the continuation offset: the byte position
// immediately following the first pointer encountered, if any pointer
// was followed at all, or the byte immediately after the terminating
// zero label otherwise. Later jumps taken while resolving pointers
// never move this value.
func ParseName(data []byte, offset int) (string, int, error) {
	if offset < 0 || offset >= len(data) {
		return "", 0, &werrors.WireFormatError{Op: "ParseName", Details: "offset out of bounds"}
	}

	var labels []string
	pos := offset
	encodedLen := 0

	hasLowest := false
	lowest := 0

	usedPointer := false
	continuation := 0

	for {
		if pos < 0 || pos >= len(data) {
			return "", 0, &werrors.WireFormatError{Op: "ParseName", Details: "offset out of bounds"}
		}

		b := data[pos]
		switch b & protocol.PointerMask {
		case 0x00:
			length := int(b & 0x3F)
			if length == 0 {
				pos++
				if !usedPointer {
					continuation = pos
				}
				name := strings.Join(labels, ".")
				return name, continuation, nil
			}

			if pos+1+length > len(data) {
				return "", 0, &werrors.WireFormatError{Op: "ParseName", Details: "truncated label"}
			}

			encodedLen += 1 + length
			if encodedLen+1 > protocol.MaxNameLength {
				return "", 0, &werrors.WireFormatError{
					Op:      "ParseName",
					Details: "name exceeds maximum 255 bytes per RFC 1035 §3.1",
				}
			}

			labels = append(labels, string(data[pos+1:pos+1+length]))
			pos += 1 + length

		case protocol.PointerMask:
			if pos+1 >= len(data) {
				return "", 0, &werrors.WireFormatError{Op: "ParseName", Details: "truncated compression pointer"}
			}

			target := int(b&0x3F)<<8 | int(data[pos+1])
			if !usedPointer {
				continuation = pos + 2
				usedPointer = true
			}

			if hasLowest && target >= lowest {
				return "", 0, &werrors.CircularNameError{Offset: pos}
			}
			hasLowest = true
			lowest = target
			pos = target

		default:
			return "", 0, &werrors.WireFormatError{
				Op:      "ParseName",
				Details: "malformed label: invalid length-byte prefix",
			}
		}
	}
}

// EncodeName encodes name into its uncompressed wire form: a sequence
// of length-prefixed labels terminated by a zero-length label. A
// trailing dot, or the empty string, both encode the root name.
func EncodeName(name string) ([]byte, error) {
	labels, err := splitLabels(name)
	if err != nil {
		return nil, err
	}

	total := 1
	for _, l := range labels {
		total += 1 + len(l)
	}
	if total > protocol.MaxNameLength {
		return nil, &werrors.ValidationError{
			Field:   "name",
			Details: "exceeds maximum 255 bytes per RFC 1035 §3.1",
		}
	}

	buf := make([]byte, 0, total)
	for _, l := range labels {
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}
	buf = append(buf, 0x00)
	return buf, nil
}

// EncodeServiceInstanceName encodes a DNS-SD instance name qualified
// by a service type into a single wire-format name:
// <instance>.<service type>, per RFC 6763 §4.3. The instance label may
// contain arbitrary UTF-8 text (including spaces), so it is validated
// only for length, not character set.
func EncodeServiceInstanceName(instanceName, serviceType string) ([]byte, error) {
	if instanceName == "" {
		return nil, &werrors.ValidationError{Field: "instanceName", Details: "must not be empty"}
	}
	if len(instanceName) > protocol.MaxLabelLength {
		return nil, &werrors.ValidationError{
			Field:   "instanceName",
			Details: "exceeds maximum label length 63 bytes per RFC 1035 §3.1",
		}
	}

	rest, err := splitLabels(serviceType)
	if err != nil {
		return nil, err
	}

	total := 1 + len(instanceName) + 1
	for _, l := range rest {
		total += 1 + len(l)
	}
	if total > protocol.MaxNameLength {
		return nil, &werrors.ValidationError{
			Field:   "instanceName",
			Details: "combined name exceeds maximum 255 bytes per RFC 1035 §3.1",
		}
	}

	buf := make([]byte, 0, total)
	buf = append(buf, byte(len(instanceName)))
	buf = append(buf, instanceName...)
	for _, l := range rest {
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}
	buf = append(buf, 0x00)
	return buf, nil
}

// splitLabels splits a dotted name into its constituent labels,
// dropping a single trailing dot, and validates each label's length.
// Consecutive dots (an empty label) are rejected.
func splitLabels(name string) ([]string, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, nil
	}

	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &werrors.ValidationError{Field: "name", Details: "empty label (consecutive dots)"}
		}
		if len(p) > protocol.MaxLabelLength {
			return nil, &werrors.ValidationError{
				Field:   "name",
				Details: "label exceeds maximum length 63 bytes per RFC 1035 §3.1",
			}
		}
	}
	return parts, nil
}

// EqualNames compares two DNS names case-insensitively, as required
// for DNSEntry equality.
func EqualNames(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// CanonicalName lowercases and strips the trailing dot from a name,
// giving the form used as a cache key.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
