package types

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// AnchorRecord is one discovered anchor. Records are created when a block is
// processed, never mutated, and deleted only by rollback.
type AnchorRecord struct {
	TransactionNumber uint64
	BlockHeight       uint32
	BlockHash         string
	AnchorPayload     []byte // OP_RETURN data with the anchor prefix stripped
	FeePaid           uint64 // satoshis paid by the carrying transaction
}

func (r *AnchorRecord) TxIndex() uint32 {
	return IndexOfTxNumber(r.TransactionNumber)
}

func (r *AnchorRecord) SerialiseKey() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, r.TransactionNumber); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *AnchorRecord) SerialiseData() ([]byte, error) {
	if len(r.BlockHash) > 255 {
		return nil, errors.New("block hash too long")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, r.BlockHeight); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.FeePaid); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(len(r.BlockHash)))
	buf.WriteString(r.BlockHash)
	buf.Write(r.AnchorPayload)
	return buf.Bytes(), nil
}

func (r *AnchorRecord) DeSerialiseKey(key []byte) error {
	if len(key) != 8 {
		return errors.New("anchor record key must be 8 bytes")
	}
	r.TransactionNumber = binary.BigEndian.Uint64(key)
	return nil
}

func (r *AnchorRecord) DeSerialiseData(data []byte) error {
	if len(data) < 13 {
		return errors.New("anchor record data too short")
	}
	r.BlockHeight = binary.BigEndian.Uint32(data[:4])
	r.FeePaid = binary.BigEndian.Uint64(data[4:12])
	hashLen := int(data[12])
	if len(data) < 13+hashLen {
		return errors.New("anchor record data truncated")
	}
	r.BlockHash = string(data[13 : 13+hashLen])
	payload := data[13+hashLen:]
	r.AnchorPayload = make([]byte, len(payload))
	copy(r.AnchorPayload, payload)
	return nil
}

func PairFactoryAnchorRecord() Pair {
	return &AnchorRecord{}
}
