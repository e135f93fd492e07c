package records

import (
	"bytes"
	"sort"

	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/werrors"
)

// TextRecord is a TXT record: rdata is an opaque length-prefixed
// key/value sequence per RFC 6763 §6.4 (§3, "Text").
type TextRecord struct {
	baseRecord
	RData []byte
}

// NewTextRecordFromMap builds a TextRecord from key/value pairs,
// encoding per RFC 6763 §6.4. An empty map yields the mandatory
// single zero byte (RFC 6763 §6). ttl is stored as-is: callers
// building a record from scratch rather than off the wire pass
// GetTTLForRecordType(entry.Type) explicitly (BuildRecordSet uses protocol.TTLService/protocol.TTLHostname).
func NewTextRecordFromMap(entry DNSEntry, kv map[string]string, ttl uint32) *TextRecord {
	entry.Unique = true
	return &TextRecord{
		baseRecord: baseRecord{entry: entry, ttl: NewRecordTTL(entry.Type, ttl)},
		RData:      buildTXTRecord(kv),
	}
}

// NewTextRecord builds a TextRecord from already-encoded rdata bytes,
// e.g. as decoded off the wire. ttl is stored as-is: a wire-decoded 0
// is a goodbye and must survive unchanged (see ParseRecord).
func NewTextRecord(entry DNSEntry, rdata []byte, ttl uint32) *TextRecord {
	entry.Unique = true
	return &TextRecord{
		baseRecord: baseRecord{entry: entry, ttl: NewRecordTTL(entry.Type, ttl)},
		RData:      append([]byte(nil), rdata...),
	}
}

func (r *TextRecord) WriteRData(enc *message.Encoder) error {
	enc.WriteBytes(r.RData)
	return nil
}

func (r *TextRecord) SameRData(other Record) bool {
	o, ok := other.(*TextRecord)
	if !ok {
		return false
	}
	return bytes.Equal(r.RData, o.RData)
}

func (r *TextRecord) ResetTTL(other Record) { r.resetTTLFrom(other) }

func (r *TextRecord) SuppressedBy(knownAnswers []Record) bool {
	return suppressedBy(r.entry, func(o Record) bool { return r.SameRData(o) }, r.ttl.TTL, knownAnswers)
}

func (r *TextRecord) HandleQuery(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}

func (r *TextRecord) HandleResponse(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}

// AsMap decodes the record's rdata back into key/value pairs, per
// RFC 6763 §6.4. Entries with no '=' are returned with an empty value
// (a boolean-flag key). The mandatory single zero byte decodes to an
// empty map.
func (r *TextRecord) AsMap() (map[string]string, error) {
	return decodeTXTRecord(r.RData)
}

// buildTXTRecord encodes a key/value map into RFC 6763 §6.4 wire
// form: each entry is a length byte followed by "key=value" (or bare
// "key" for boolean flags). Keys are sorted for deterministic output.
func buildTXTRecord(kv map[string]string) []byte {
	if len(kv) == 0 {
		return []byte{0x00}
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		entry := k
		if v := kv[k]; v != "" {
			entry = k + "=" + v
		}
		buf = append(buf, byte(len(entry)))
		buf = append(buf, entry...)
	}
	return buf
}

// decodeTXTRecord parses RFC 6763 §6.4 wire form back into a map.
func decodeTXTRecord(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	pos := 0
	for pos < len(data) {
		length := int(data[pos])
		pos++
		if length == 0 {
			continue
		}
		if pos+length > len(data) {
			return nil, &werrors.WireFormatError{Op: "decodeTXTRecord", Details: "entry length overruns rdata"}
		}
		entry := string(data[pos : pos+length])
		pos += length

		if idx := indexByte(entry, '='); idx >= 0 {
			out[entry[:idx]] = entry[idx+1:]
		} else {
			out[entry] = ""
		}
	}
	return out, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
