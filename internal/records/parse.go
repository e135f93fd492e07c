package records

import (
	"encoding/binary"

	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/werrors"
)

// ParseRecord interprets a decoded message.RR into a typed Record.
// msgData is the full message buffer the RR came from, needed because
// PTR and SRV rdata may contain compression pointers that address
// bytes outside rr.RData itself (RFC 1035 §4.1.4).
func ParseRecord(msgData []byte, rr message.RR) (Record, error) {
	entry := DNSEntry{Name: rr.Name, Type: rr.Type, Class: rr.Class, Unique: rr.CacheFlush}

	switch rr.Type {
	case protocol.RecordTypeA:
		if len(rr.RData) != 4 {
			return nil, &werrors.WireFormatError{Op: "ParseRecord", Details: "A record rdata must be 4 bytes"}
		}
		return NewAddressRecord(entry, rr.RData, rr.TTL), nil

	case protocol.RecordTypeAAAA:
		if len(rr.RData) != 16 {
			return nil, &werrors.WireFormatError{Op: "ParseRecord", Details: "AAAA record rdata must be 16 bytes"}
		}
		return NewAddressRecord(entry, rr.RData, rr.TTL), nil

	case protocol.RecordTypePTR:
		target, _, err := message.ParseName(msgData, rr.RDataOffset)
		if err != nil {
			return nil, err
		}
		return NewPointerRecord(entry, target, rr.TTL), nil

	case protocol.RecordTypeSRV:
		if len(rr.RData) < 6 {
			return nil, &werrors.WireFormatError{Op: "ParseRecord", Details: "SRV record rdata shorter than 6 bytes"}
		}
		priority := binary.BigEndian.Uint16(rr.RData[0:2])
		weight := binary.BigEndian.Uint16(rr.RData[2:4])
		port := binary.BigEndian.Uint16(rr.RData[4:6])
		target, _, err := message.ParseName(msgData, rr.RDataOffset+6)
		if err != nil {
			return nil, err
		}
		return NewServiceRecord(entry, priority, weight, port, target, rr.TTL), nil

	case protocol.RecordTypeTXT:
		return NewTextRecord(entry, rr.RData, rr.TTL), nil

	default:
		return nil, &werrors.WireFormatError{Op: "ParseRecord", Details: "unsupported record type " + rr.Type.String()}
	}
}
