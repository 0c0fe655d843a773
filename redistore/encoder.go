package redistore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/veldran/authcore"
)

const recordFormatVersionCurrent = 1

// Encode serializes a refresh-token record into the versioned binary layout:
//
//	[version:1][idLen:1][id][principalLen:1][principal][createdAt:8][expiresAt:8]
//
// Timestamps are big-endian Unix seconds. The expiry occupies the final 8
// bytes so the rotation script can read and replace it without decoding the
// whole record. The token string itself is never stored; the record key is
// derived from it.
func Encode(rec authcore.RefreshTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if len(rec.ID) > 255 {
		return nil, errors.New("record id too long")
	}
	buf.WriteByte(byte(len(rec.ID)))
	buf.WriteString(rec.ID)

	if len(rec.PrincipalID) > 255 {
		return nil, errors.New("principal id too long")
	}
	buf.WriteByte(byte(len(rec.PrincipalID)))
	buf.WriteString(rec.PrincipalID)

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.Unix()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode reverses [Encode]. The Token field is left empty; the caller keys
// records by token hash and fills it in from context.
func Decode(data []byte) (authcore.RefreshTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	if version != recordFormatVersionCurrent {
		return authcore.RefreshTokenRecord{}, errors.New("invalid record version")
	}

	var rec authcore.RefreshTokenRecord

	idLen, err := reader.ReadByte()
	if err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	rec.ID = string(id)

	principalLen, err := reader.ReadByte()
	if err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	principal := make([]byte, principalLen)
	if _, err := io.ReadFull(reader, principal); err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	rec.PrincipalID = string(principal)

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return authcore.RefreshTokenRecord{}, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	rec.UpdatedAt = rec.CreatedAt

	return rec, nil
}
