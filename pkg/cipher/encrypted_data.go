package cipher

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"regexp"
)

const (
	hashLen   = 64
	headerLen = hashLen + 4
)

var hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// EncryptedData is a ciphertext together with the hash of its plaintext and
// free-form metadata.
//
// Stored form: base64([hash: 64 ASCII hex][uint32 BE metadata length]
// [metadata JSON][ciphertext]), kept as the bytes of the base64 string.
type EncryptedData struct {
	Data     []byte
	Hash     string
	Metadata map[string]interface{}
}

// Serialize renders the stored form.
func (e *EncryptedData) Serialize() ([]byte, error) {
	if !hashPattern.MatchString(e.Hash) {
		return nil, fmt.Errorf("hash must be exactly 64 hexadecimal characters, got length %d", len(e.Hash))
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(headerLen + len(metaJSON) + len(e.Data))
	buf.WriteString(e.Hash)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(metaJSON)))
	buf.Write(n[:])
	buf.Write(metaJSON)
	buf.Write(e.Data)
	return []byte(base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// ParseEncryptedData reads the stored form.
func ParseEncryptedData(serialized []byte) (*EncryptedData, error) {
	buf, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(serialized)))
	if err != nil {
		return nil, fmt.Errorf("invalid serialized format: %w", err)
	}
	if len(buf) < headerLen {
		return nil, fmt.Errorf("invalid serialized format: too short")
	}
	metaLen := binary.BigEndian.Uint32(buf[hashLen:headerLen])
	if uint64(len(buf)) < uint64(headerLen)+uint64(metaLen) {
		return nil, fmt.Errorf("invalid serialized format: metadata length exceeds buffer")
	}
	e := &EncryptedData{
		Hash:     string(buf[:hashLen]),
		Metadata: map[string]interface{}{},
	}
	if metaLen > 0 {
		if err := json.Unmarshal(buf[headerLen:headerLen+int(metaLen)], &e.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
	}
	e.Data = append([]byte(nil), buf[headerLen+int(metaLen):]...)
	return e, nil
}
