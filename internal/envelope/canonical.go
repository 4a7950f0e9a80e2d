package envelope

import (
	"encoding/binary"
)

// Canonical encoding is a fixed field-order byte concatenation (not
// map-based JSON) so hashes/signatures are stable across Go versions and,
// per spec §4.1, across re-implementations in other languages. Each field
// is length-prefixed so there is no ambiguity at field boundaries.

func putStr(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

// encodeInternalMetadata encodes InternalMetadata, optionally omitting the
// signature field (used when computing the bytes the inner signature
// covers).
func encodeInternalMetadata(m InternalMetadata, includeSignature bool) []byte {
	var buf []byte
	buf = putStr(buf, m.SenderSubidentity)
	buf = putStr(buf, m.RecipientSubidentity)
	buf = putStr(buf, m.Inbox)
	if includeSignature {
		buf = putStr(buf, m.Signature)
	}
	buf = putStr(buf, string(m.EncryptionMethod))
	buf = putStr(buf, m.SchemaType)
	return buf
}

// encodeExternalMetadata encodes ExternalMetadata, optionally omitting the
// signature field.
func encodeExternalMetadata(m ExternalMetadata, includeSignature bool) []byte {
	var buf []byte
	buf = putStr(buf, m.Sender)
	buf = putStr(buf, m.Recipient)
	buf = putStr(buf, m.ScheduledTime)
	if includeSignature {
		buf = putStr(buf, m.Signature)
	}
	buf = putStr(buf, m.IntraSender)
	buf = putStr(buf, m.Other)
	return buf
}

// encodeBody encodes the body as it is on the wire (encrypted bytes, or the
// content+internal-metadata pair with the inner signature included).
func encodeBody(b Body) []byte {
	var buf []byte
	if b.IsEncrypted() {
		buf = append(buf, 0x01)
		buf = putBytes(buf, b.Encrypted)
		return buf
	}
	buf = append(buf, 0x00)
	buf = putStr(buf, b.Unencrypted.Content)
	buf = append(buf, encodeInternalMetadata(b.Unencrypted.InternalMetadata, true)...)
	return buf
}

// innerSigningBytes returns content+internal_metadata with the inner
// signature field excluded — what the inner signature is computed over.
func innerSigningBytes(content string, m InternalMetadata) []byte {
	var buf []byte
	buf = putStr(buf, content)
	buf = append(buf, encodeInternalMetadata(m, false)...)
	return buf
}

// outerSigningBytes returns the full message with external_metadata.signature
// excluded — what the outer signature is computed over.
func outerSigningBytes(m Message) []byte {
	var buf []byte
	buf = append(buf, encodeBody(m.Body)...)
	buf = append(buf, encodeExternalMetadata(m.ExternalMetadata, false)...)
	buf = putStr(buf, string(m.EncryptionMethod))
	buf = putStr(buf, m.Version)
	return buf
}

// paginationBytes returns the full canonical encoding including both
// signatures, used as input to HashForPagination.
func paginationBytes(m Message) []byte {
	var buf []byte
	buf = append(buf, encodeBody(m.Body)...)
	buf = append(buf, encodeExternalMetadata(m.ExternalMetadata, true)...)
	buf = putStr(buf, string(m.EncryptionMethod))
	buf = putStr(buf, m.Version)
	return buf
}
