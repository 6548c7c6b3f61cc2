package types

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// BucketCount is one entry of a quantized fee histogram. Bucket is the lower
// bound of the bucket in satoshis.
type BucketCount struct {
	Bucket uint64
	Count  uint64
}

// QuantileSnapshot is the persisted per-batch proof-of-fee state: the
// computed quantile value plus the batch's own frequency histogram, which is
// what rollback and window eviction need to rebuild the rolling vector.
type QuantileSnapshot struct {
	BatchID       uint64
	QuantileValue uint64 // satoshis, quantized
	Frequencies   []BucketCount
}

func (s *QuantileSnapshot) SerialiseKey() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, s.BatchID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *QuantileSnapshot) SerialiseData() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, s.QuantileValue); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(s.Frequencies))); err != nil {
		return nil, err
	}
	for _, bc := range s.Frequencies {
		if err := binary.Write(&buf, binary.BigEndian, bc.Bucket); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, bc.Count); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (s *QuantileSnapshot) DeSerialiseKey(key []byte) error {
	if len(key) != 8 {
		return errors.New("snapshot key must be 8 bytes")
	}
	s.BatchID = binary.BigEndian.Uint64(key)
	return nil
}

func (s *QuantileSnapshot) DeSerialiseData(data []byte) error {
	if len(data) < 12 {
		return errors.New("snapshot data too short")
	}
	s.QuantileValue = binary.BigEndian.Uint64(data[:8])
	n := binary.BigEndian.Uint32(data[8:12])
	if uint64(len(data)) != 12+uint64(n)*16 {
		return errors.New("snapshot data length mismatch")
	}
	s.Frequencies = make([]BucketCount, 0, n)
	off := 12
	for i := uint32(0); i < n; i++ {
		s.Frequencies = append(s.Frequencies, BucketCount{
			Bucket: binary.BigEndian.Uint64(data[off : off+8]),
			Count:  binary.BigEndian.Uint64(data[off+8 : off+16]),
		})
		off += 16
	}
	return nil
}

func PairFactoryQuantileSnapshot() Pair {
	return &QuantileSnapshot{}
}
