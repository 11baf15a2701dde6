package entry

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"
)

// canonicalMetadataWithoutSignature produces the fixed-order,
// length-prefixed byte form described by the entry codec: entryType, docId,
// sorted dependencyIds, createdAt, createdByPublicKey, decryptionKeyId,
// originalSize, encryptedSize, contentHash, encryptedData. This is the byte
// string both hashed for the entry id and signed.
func canonicalMetadataWithoutSignature(e *Entry) []byte {
	var out []byte
	out = appendLP(out, []byte(e.EntryType))
	out = appendLP(out, []byte(e.DocID))

	deps := append([]string(nil), e.DependencyIDs...)
	sort.Strings(deps)
	out = binary.BigEndian.AppendUint32(out, uint32(len(deps)))
	for _, d := range deps {
		out = appendLP(out, []byte(d))
	}

	out = binary.BigEndian.AppendUint64(out, uint64(e.CreatedAt.UTC().UnixNano()))
	out = appendLP(out, e.CreatedByPublicKey)
	out = appendLP(out, []byte(e.DecryptionKeyID))
	out = binary.BigEndian.AppendUint64(out, uint64(e.OriginalSize))
	out = binary.BigEndian.AppendUint64(out, uint64(e.EncryptedSize))
	out = appendLP(out, e.ContentHash[:])
	out = appendLP(out, e.EncryptedData)
	return out
}

func appendLP(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// CreatedAtTruncated truncates t to millisecond precision. The canonical
// form encodes nanoseconds and the wire DTOs carry time.Time values, so
// neither applies this truncation.
func CreatedAtTruncated(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
