package message

import (
	"encoding/binary"
	"strings"

	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/werrors"
)

// Header is the fixed 12-byte DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool { return h.Flags&protocol.FlagQR != 0 }

// IsQuery reports the inverse of IsResponse.
func (h Header) IsQuery() bool { return !h.IsResponse() }

// IsAuthoritative reports whether the AA bit is set.
func (h Header) IsAuthoritative() bool { return h.Flags&protocol.FlagAA != 0 }

// IsTruncated reports whether the TC bit is set.
func (h Header) IsTruncated() bool { return h.Flags&protocol.FlagTC != 0 }

func decodeHeader(data []byte) (Header, error) {
	if len(data) < 12 {
		return Header{}, &werrors.WireFormatError{Op: "decodeHeader", Details: "message shorter than 12-byte header"}
	}
	return Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

// Question is a single entry in the question section (RFC 1035 §4.1.2).
type Question struct {
	Name  string
	Type  protocol.RecordType
	Class protocol.RecordClass
	// QU marks the mDNS "unicast response preferred" bit (RFC 6762
	// §5.4), the question-section analogue of the RR cache-flush bit.
	QU bool
}

// AnsweredBy reports whether rr answers this question: names equal
// case-insensitively, classes equal, and type matches or the question
// type is ANY (RFC 6762 §6, DNSSD "question answered by" semantics).
func (q Question) AnsweredBy(name string, typ protocol.RecordType, class protocol.RecordClass) bool {
	if !EqualNames(q.Name, name) {
		return false
	}
	if q.Class != class {
		return false
	}
	return q.Type == typ || q.Type == protocol.RecordTypeANY
}

// RR is a decoded resource record with opaque rdata. Interpreting the
// rdata bytes into a typed record.Record is the record model's job
// (internal/records), since some rdata forms (PTR, SRV) contain
// compressed names that must be resolved against the full message
// buffer, not just the rdata slice.
type RR struct {
	Name        string
	Type        protocol.RecordType
	Class       protocol.RecordClass
	CacheFlush  bool
	TTL         uint32
	RData       []byte
	RDataOffset int // offset of RData[0] within the original message buffer
}

// knownRecordTypes are the wire types this codec retains; anything
// else is silently skipped per §4.C, with the section count adjusted
// for display (best-effort, see Message.OriginalCounts).
var knownRecordTypes = map[protocol.RecordType]bool{
	protocol.RecordTypeA:    true,
	protocol.RecordTypeAAAA: true,
	protocol.RecordTypePTR:  true,
	protocol.RecordTypeSRV:  true,
	protocol.RecordTypeTXT:  true,
}

// Message is a fully decoded (or in-progress) DNS message.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []RR
	Authorities []RR
	Additionals []RR

	// OriginalCounts preserves the header's section counts as they
	// arrived on the wire, before any unknown-record decrementing.
	// Open Question (b): treat this purely as debug/display data;
	// nothing in the codec or dispatcher makes decisions from it.
	OriginalCounts Header
}

// Decode parses a complete DNS message from wire format.
func Decode(data []byte) (*Message, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: hdr, OriginalCounts: hdr}
	pos := 12

	for i := 0; i < int(hdr.QDCount); i++ {
		q, next, err := decodeQuestion(data, pos)
		if err != nil {
			return nil, err
		}
		msg.Questions = append(msg.Questions, q)
		pos = next
	}

	var err2 error
	msg.Answers, pos, err2 = decodeSection(data, pos, int(hdr.ANCount))
	if err2 != nil {
		return nil, err2
	}
	msg.Authorities, pos, err2 = decodeSection(data, pos, int(hdr.NSCount))
	if err2 != nil {
		return nil, err2
	}
	msg.Additionals, _, err2 = decodeSection(data, pos, int(hdr.ARCount))
	if err2 != nil {
		return nil, err2
	}

	msg.Header.ANCount = uint16(len(msg.Answers))
	msg.Header.NSCount = uint16(len(msg.Authorities))
	msg.Header.ARCount = uint16(len(msg.Additionals))

	return msg, nil
}

func decodeQuestion(data []byte, pos int) (Question, int, error) {
	name, next, err := ParseName(data, pos)
	if err != nil {
		return Question{}, 0, err
	}
	if next+4 > len(data) {
		return Question{}, 0, &werrors.WireFormatError{Op: "decodeQuestion", Details: "truncated question"}
	}
	typ := protocol.RecordType(binary.BigEndian.Uint16(data[next : next+2]))
	classField := binary.BigEndian.Uint16(data[next+2 : next+4])
	q := Question{
		Name:  name,
		Type:  typ,
		Class: protocol.RecordClass(classField &^ protocol.ClassCacheFlushBit),
		QU:    classField&protocol.ClassCacheFlushBit != 0,
	}
	return q, next + 4, nil
}

func decodeSection(data []byte, pos, count int) ([]RR, int, error) {
	var out []RR
	for i := 0; i < count; i++ {
		rr, next, known, err := decodeRR(data, pos)
		if err != nil {
			return nil, 0, err
		}
		if known {
			out = append(out, rr)
		}
		pos = next
	}
	return out, pos, nil
}

func decodeRR(data []byte, pos int) (RR, int, bool, error) {
	name, next, err := ParseName(data, pos)
	if err != nil {
		return RR{}, 0, false, err
	}
	if next+10 > len(data) {
		return RR{}, 0, false, &werrors.WireFormatError{Op: "decodeRR", Details: "truncated record header"}
	}
	typ := protocol.RecordType(binary.BigEndian.Uint16(data[next : next+2]))
	classField := binary.BigEndian.Uint16(data[next+2 : next+4])
	ttl := binary.BigEndian.Uint32(data[next+4 : next+8])
	rdlength := int(binary.BigEndian.Uint16(data[next+8 : next+10]))
	rdataStart := next + 10

	if rdataStart+rdlength > len(data) {
		return RR{}, 0, false, &werrors.WireFormatError{Op: "decodeRR", Details: "rdlength overruns message"}
	}

	rdata := make([]byte, rdlength)
	copy(rdata, data[rdataStart:rdataStart+rdlength])

	newPos := rdataStart + rdlength

	rr := RR{
		Name:        name,
		Type:        typ,
		Class:       protocol.RecordClass(classField &^ protocol.ClassCacheFlushBit),
		CacheFlush:  classField&protocol.ClassCacheFlushBit != 0,
		TTL:         ttl,
		RData:       rdata,
		RDataOffset: rdataStart,
	}

	return rr, newPos, knownRecordTypes[typ], nil
}

// Append merges a truncated query's continuation onto msg: the
// continuation's questions and known-answer records are concatenated
// onto msg's own sections, and section counts accumulate. Per §4.C,
// appending onto a message that is not a truncated query is a
// programmer error.
func (m *Message) Append(continuation *Message) error {
	if !m.Header.IsQuery() || !m.Header.IsTruncated() {
		return &werrors.IllegalUseError{Details: "Append called on a non-truncated or non-query primary message"}
	}

	m.Questions = append(m.Questions, continuation.Questions...)
	m.Answers = append(m.Answers, continuation.Answers...)
	m.Authorities = append(m.Authorities, continuation.Authorities...)
	m.Additionals = append(m.Additionals, continuation.Additionals...)

	m.Header.QDCount = uint16(len(m.Questions))
	m.Header.ANCount = uint16(len(m.Answers))
	m.Header.NSCount = uint16(len(m.Authorities))
	m.Header.ARCount = uint16(len(m.Additionals))

	if !continuation.Header.IsTruncated() {
		m.Header.Flags &^= protocol.FlagTC
	}

	return nil
}

// RecordWriter is implemented by internal/records.Record so the
// message encoder can serialize rdata without importing the record
// model (which itself imports message for name encoding).
type RecordWriter interface {
	RRName() string
	RRType() protocol.RecordType
	RRClass() protocol.RecordClass
	RRCacheFlush() bool
	RRTTL() uint32
	WriteRData(enc *Encoder) error
}

// encodePhase tracks which section of the message is currently being
// written, enforcing the questions-before-answers-before-authorities-
// before-additionals ordering invariant.
type encodePhase int

const (
	phaseQuestions encodePhase = iota
	phaseAnswers
	phaseAuthorities
	phaseAdditionals
)

// Encoder builds a single outgoing DNS message, applying name
// compression across the whole message and enforcing section
// ordering and a maximum size.
type Encoder struct {
	id      uint16
	flags   uint16
	buf     []byte
	table   map[string]uint16
	compress bool
	maxSize int
	phase   encodePhase

	qdcount, ancount, nscount, arcount uint16
}

// NewEncoder starts a new message with the given id and header flags.
// maxSize bounds the encoded frame; compress toggles name-pointer
// compression (component A's optional build flag, on by default).
func NewEncoder(id, flags uint16, maxSize int, compress bool) *Encoder {
	return &Encoder{
		id:       id,
		flags:    flags,
		buf:      make([]byte, 12),
		table:    make(map[string]uint16),
		compress: compress,
		maxSize:  maxSize,
	}
}

// Len returns the number of bytes written so far, including the
// reserved header.
func (e *Encoder) Len() int { return len(e.buf) }

// WriteName writes a (possibly compressed) name at the encoder's
// current position. Exported for use by internal/records when
// writing PTR/SRV rdata, which themselves contain names.
func (e *Encoder) WriteName(name string) error {
	labels, err := splitLabels(name)
	if err != nil {
		return err
	}

	for i := 0; i < len(labels); i++ {
		suffix := CanonicalName(strings.Join(labels[i:], "."))

		if e.compress {
			if off, ok := e.table[suffix]; ok {
				e.buf = append(e.buf, byte(protocol.PointerMask)|byte(off>>8), byte(off))
				return nil
			}
		}

		pos := len(e.buf)
		if e.compress && pos <= protocol.MaxPointerOffset {
			e.table[suffix] = uint16(pos)
		}

		label := labels[i]
		e.buf = append(e.buf, byte(len(label)))
		e.buf = append(e.buf, label...)
	}

	e.buf = append(e.buf, 0x00)
	return nil
}

// WriteNameUncompressed writes name in full label form without
// consulting or populating the compression table, for legacy DNS-SD
// stacks that don't expect a pointer inside an SRV record's rdata
// (component J's BonjourStrict option).
func (e *Encoder) WriteNameUncompressed(name string) error {
	labels, err := splitLabels(name)
	if err != nil {
		return err
	}
	for _, label := range labels {
		e.buf = append(e.buf, byte(len(label)))
		e.buf = append(e.buf, label...)
	}
	e.buf = append(e.buf, 0x00)
	return nil
}

// WriteBytes appends raw bytes (rdata payload) at the current position.
func (e *Encoder) WriteBytes(b []byte) { e.buf = append(e.buf, b...) }

// WriteUint16 appends a big-endian uint16.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a big-endian uint32.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) checkOverflow(pre int) error {
	if len(e.buf) > e.maxSize {
		needed := len(e.buf)
		e.buf = e.buf[:pre]
		return &werrors.BufferFullError{Capacity: e.maxSize, Needed: needed}
	}
	return nil
}

// AddQuestion appends a question. Must be called before any answer,
// authority, or additional record.
func (e *Encoder) AddQuestion(q Question) error {
	if e.phase > phaseQuestions {
		return &werrors.IllegalUseError{Details: "AddQuestion called after answers were already written"}
	}
	pre := len(e.buf)
	if err := e.WriteName(q.Name); err != nil {
		e.buf = e.buf[:pre]
		return err
	}
	classField := uint16(q.Class)
	if q.QU {
		classField |= protocol.ClassCacheFlushBit
	}
	e.WriteUint16(uint16(q.Type))
	e.WriteUint16(classField)

	if err := e.checkOverflow(pre); err != nil {
		return err
	}
	e.qdcount++
	return nil
}

// AddAnswer appends an answer-section record.
func (e *Encoder) AddAnswer(rw RecordWriter) error {
	if e.phase > phaseAnswers {
		return &werrors.IllegalUseError{Details: "AddAnswer called after authorities were already written"}
	}
	e.phase = phaseAnswers
	if err := e.addRecord(rw); err != nil {
		return err
	}
	e.ancount++
	return nil
}

// AddAuthority appends an authority-section record.
func (e *Encoder) AddAuthority(rw RecordWriter) error {
	if e.phase > phaseAuthorities {
		return &werrors.IllegalUseError{Details: "AddAuthority called after additionals were already written"}
	}
	e.phase = phaseAuthorities
	if err := e.addRecord(rw); err != nil {
		return err
	}
	e.nscount++
	return nil
}

// AddAdditional appends an additional-section record.
func (e *Encoder) AddAdditional(rw RecordWriter) error {
	e.phase = phaseAdditionals
	if err := e.addRecord(rw); err != nil {
		return err
	}
	e.arcount++
	return nil
}

func (e *Encoder) addRecord(rw RecordWriter) error {
	pre := len(e.buf)

	if err := e.WriteName(rw.RRName()); err != nil {
		e.buf = e.buf[:pre]
		return err
	}

	classField := uint16(rw.RRClass())
	if rw.RRCacheFlush() {
		classField |= protocol.ClassCacheFlushBit
	}
	e.WriteUint16(uint16(rw.RRType()))
	e.WriteUint16(classField)
	e.WriteUint32(rw.RRTTL())

	rdlenPos := len(e.buf)
	e.WriteUint16(0) // placeholder, stamped after rdata is written

	if err := rw.WriteRData(e); err != nil {
		e.buf = e.buf[:pre]
		return err
	}

	rdlen := len(e.buf) - (rdlenPos + 2)
	e.buf[rdlenPos] = byte(rdlen >> 8)
	e.buf[rdlenPos+1] = byte(rdlen)

	return e.checkOverflow(pre)
}

// SetTruncated sets or clears the TC bit for the frame currently being
// built.
func (e *Encoder) SetTruncated(tc bool) {
	if tc {
		e.flags |= protocol.FlagTC
	} else {
		e.flags &^= protocol.FlagTC
	}
}

// Finish stamps the header and returns the completed frame.
func (e *Encoder) Finish() []byte {
	binary.BigEndian.PutUint16(e.buf[0:2], e.id)
	binary.BigEndian.PutUint16(e.buf[2:4], e.flags)
	binary.BigEndian.PutUint16(e.buf[4:6], e.qdcount)
	binary.BigEndian.PutUint16(e.buf[6:8], e.ancount)
	binary.BigEndian.PutUint16(e.buf[8:10], e.nscount)
	binary.BigEndian.PutUint16(e.buf[10:12], e.arcount)
	return e.buf
}
