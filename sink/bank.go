// Package sink provides event packagers and sinks for a readout.
package sink

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/go-readout/internal/constants"
	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// bankHeaderWords is the length word plus the header word of one bank
const bankHeaderWords = 2

// MaxBankPayload is the largest payload a bank can describe
const MaxBankPayload = (1<<32 - 1 - 2*bankHeaderWords) * 4

// ByteOrder is a byte order that can also append, such as binary.BigEndian
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// BankPackager wraps each payload in a two-level bank:
//
//	outer: [length] [rocID<<16 | 0x10<<8 | 1]
//	inner: [length] [dataTag<<16 | 0x01<<8 | sync]
//	       payload, zero padded to a 32-bit boundary
//
// Each length word counts the words that follow it within its bank.
type BankPackager struct {
	ROCID     uint16
	DataTag   uint16
	ByteOrder ByteOrder
}

// NewBankPackager creates a packager with the default tags in big-endian order
func NewBankPackager(rocID uint16) *BankPackager {
	return &BankPackager{
		ROCID:     rocID,
		DataTag:   constants.DefaultDataTag,
		ByteOrder: binary.BigEndian,
	}
}

// BankHeader builds a bank header word
func BankHeader(tag uint16, typ uint8, num uint8) uint32 {
	return uint32(tag)<<16 | uint32(typ)<<8 | uint32(num)
}

// PaddedWords returns the number of 32-bit words needed to hold n bytes
func PaddedWords(n int) int {
	return (n + 3) / 4
}

// Package implements interfaces.Packager
func (p *BankPackager) Package(dst []byte, ev *interfaces.Event) ([]byte, error) {
	if int64(ev.Length) > MaxBankPayload {
		return dst, fmt.Errorf("payload of %d bytes exceeds bank limit", ev.Length)
	}

	var order ByteOrder = binary.BigEndian
	if p.ByteOrder != nil {
		order = p.ByteOrder
	}

	payload := ev.Payload[:ev.Length]
	words := PaddedWords(len(payload))

	var num uint8
	if ev.Sync {
		num = 1
	}

	dst = order.AppendUint32(dst, uint32(1+bankHeaderWords+words))
	dst = order.AppendUint32(dst, BankHeader(p.ROCID, constants.BankTypeBank, 1))
	dst = order.AppendUint32(dst, uint32(1+words))
	dst = order.AppendUint32(dst, BankHeader(p.DataTag, constants.BankTypeUint32, num))
	dst = append(dst, payload...)
	for pad := words*4 - len(payload); pad > 0; pad-- {
		dst = append(dst, 0)
	}
	return dst, nil
}

// Bank is one decoded bank
type Bank struct {
	Tag  uint16
	Type uint8
	Num  uint8
	Data []byte // Words following the header, including padding
}

// DecodeBank parses the bank at the start of b and returns it with the
// remaining bytes.
func DecodeBank(b []byte, order binary.ByteOrder) (Bank, []byte, error) {
	if len(b) < 8 {
		return Bank{}, nil, fmt.Errorf("short bank: %d bytes", len(b))
	}
	length := order.Uint32(b)
	header := order.Uint32(b[4:])
	end := 4 + int(length)*4
	if length < 1 || end > len(b) {
		return Bank{}, nil, fmt.Errorf("bank length %d exceeds %d bytes", length, len(b))
	}
	return Bank{
		Tag:  uint16(header >> 16),
		Type: uint8(header >> 8),
		Num:  uint8(header),
		Data: b[8:end],
	}, b[end:], nil
}

var _ interfaces.Packager = (*BankPackager)(nil)
