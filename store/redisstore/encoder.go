package redisstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/CuckCybsacTEST/tokensapp/store"
)

const (
	tokenFormatVersionCurrent = 1
	eventFormatVersionCurrent = 1
)

var errCorruptRecord = errors.New("redisstore: corrupt record")

func encodeToken(t *store.Token) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(128 + len(t.Claim))

	buf.WriteByte(tokenFormatVersionCurrent)

	for _, s := range []string{t.ID, t.Code, t.OwnerID, t.Kind, string(t.Status)} {
		if err := writeShortString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(t.MaxUses)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(t.UsedCount)); err != nil {
		return nil, err
	}
	if t.Disabled {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, t.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, t.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(t.Claim))); err != nil {
		return nil, err
	}
	buf.WriteString(t.Claim)

	return buf.Bytes(), nil
}

func decodeToken(data []byte) (*store.Token, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != tokenFormatVersionCurrent {
		return nil, errors.New("redisstore: unsupported token record version")
	}

	var fields [5]string
	for i := range fields {
		if fields[i], err = readShortString(r); err != nil {
			return nil, errCorruptRecord
		}
	}

	var maxUses, usedCount int32
	if err := binary.Read(r, binary.BigEndian, &maxUses); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(r, binary.BigEndian, &usedCount); err != nil {
		return nil, errCorruptRecord
	}
	disabled, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	var expiresAt, createdAt int64
	if err := binary.Read(r, binary.BigEndian, &expiresAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(r, binary.BigEndian, &createdAt); err != nil {
		return nil, errCorruptRecord
	}

	var claimLen uint32
	if err := binary.Read(r, binary.BigEndian, &claimLen); err != nil {
		return nil, errCorruptRecord
	}
	if int64(claimLen) > int64(r.Len()) {
		return nil, errCorruptRecord
	}
	claim := make([]byte, claimLen)
	if _, err := io.ReadFull(r, claim); err != nil {
		return nil, errCorruptRecord
	}

	return &store.Token{
		ID:        fields[0],
		Code:      fields[1],
		OwnerID:   fields[2],
		Kind:      fields[3],
		Status:    store.Status(fields[4]),
		MaxUses:   int(maxUses),
		UsedCount: int(usedCount),
		Disabled:  disabled == 1,
		ExpiresAt: time.Unix(0, expiresAt).UTC(),
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Claim:     string(claim),
	}, nil
}

func encodeEvent(e *store.RedemptionEvent) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(eventFormatVersionCurrent)
	for _, s := range []string{e.ID, e.TokenID, e.By, e.Device, e.Location} {
		if err := writeShortString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, e.RedeemedAt.UnixNano()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeEvent(data []byte) (*store.RedemptionEvent, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != eventFormatVersionCurrent {
		return nil, errCorruptRecord
	}

	var fields [5]string
	for i := range fields {
		if fields[i], err = readShortString(r); err != nil {
			return nil, errCorruptRecord
		}
	}

	var redeemedAt int64
	if err := binary.Read(r, binary.BigEndian, &redeemedAt); err != nil {
		return nil, errCorruptRecord
	}

	return &store.RedemptionEvent{
		ID:         fields[0],
		TokenID:    fields[1],
		By:         fields[2],
		Device:     fields[3],
		Location:   fields[4],
		RedeemedAt: time.Unix(0, redeemedAt).UTC(),
	}, nil
}

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("redisstore: field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readShortString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
