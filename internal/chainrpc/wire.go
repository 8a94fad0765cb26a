package chainrpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
)

// Procedure indices for the Quottery smart contract (contract index 2).
const (
	ContractIndex            = 2
	ProcIssueBet       uint16 = 1
	ProcJoinBet        uint16 = 2
	ProcPublishResult  uint16 = 3
	ProcCancelBet      uint16 = 4
)

// QuotteryContractID is the destination public key for every Quottery
// procedure call — contract index 2, all other bytes zero.
var QuotteryContractID = [32]byte{ContractIndex}

const maxOptions = 8

// PackDate encodes t into the SC's packed date format, per spec.md §4.5:
//
//	((year-2024)&0x3F)<<26 | (month&0xF)<<22 | (day&0x1F)<<17 |
//	(hour&0x1F)<<12 | (minute&0x3F)<<6 | (second&0x3F)
//
// Valid for years 2024-2087 inclusive; anything outside that range is
// rejected rather than silently wrapped.
func PackDate(t time.Time) (uint32, error) {
	t = t.UTC()
	year := t.Year()
	if year < 2024 || year > 2087 {
		return 0, domain.ErrDateOutOfRange
	}
	var packed uint32
	packed = uint32(year-2024) & 0x3F << 26
	packed |= uint32(t.Month()) & 0xF << 22
	packed |= uint32(t.Day()) & 0x1F << 17
	packed |= uint32(t.Hour()) & 0x1F << 12
	packed |= uint32(t.Minute()) & 0x3F << 6
	packed |= uint32(t.Second()) & 0x3F
	return packed, nil
}

// UnpackDate reverses PackDate, reconstructing the UTC instant to
// second precision.
func UnpackDate(packed uint32) time.Time {
	year := 2024 + int((packed>>26)&0x3F)
	month := time.Month((packed >> 22) & 0xF)
	day := int((packed >> 17) & 0x1F)
	hour := int((packed >> 12) & 0x1F)
	minute := int((packed >> 6) & 0x3F)
	second := int(packed & 0x3F)
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// IssueBetProcedure is the 600-byte issueBet payload. Description is the
// caller-supplied identifier used later to discover the assigned on-chain
// bet id via getActiveBet/getBetInfo matching — the numeric id does not
// exist yet at issue time.
type IssueBetProcedure struct {
	Description [32]byte
	OptionIDs   [maxOptions][32]byte
	OracleIDs   [maxOptions][32]byte
	OracleFees  [maxOptions]uint32
	CloseDate   uint32
	EndDate     uint32
	AmountPerSlot int64
	MaxSlots    uint32
	OptionCount uint32
}

// NewIssueBetProcedure fills an IssueBetProcedure from market parameters,
// padding unused option/oracle slots with zero bytes.
func NewIssueBetProcedure(description string, options []string, oracleIdentities []string, oracleFees []uint32, closeAt, endAt time.Time, amountPerSlot int64, maxSlots int) (IssueBetProcedure, error) {
	if len(options) == 0 || len(options) > maxOptions {
		return IssueBetProcedure{}, fmt.Errorf("chainrpc: option count %d out of [1,%d]", len(options), maxOptions)
	}
	var p IssueBetProcedure
	copy(p.Description[:], encodeID(description, 32))
	for i, opt := range options {
		copy(p.OptionIDs[i][:], encodeID(opt, 32))
	}
	for i, oid := range oracleIdentities {
		if i >= maxOptions {
			break
		}
		pub, err := DecodeIdentity(oid)
		if err != nil {
			return IssueBetProcedure{}, fmt.Errorf("chainrpc: oracle identity %d: %w", i, err)
		}
		p.OracleIDs[i] = pub
	}
	for i, fee := range oracleFees {
		if i >= maxOptions {
			break
		}
		p.OracleFees[i] = fee
	}

	closePacked, err := PackDate(closeAt)
	if err != nil {
		return IssueBetProcedure{}, err
	}
	endPacked, err := PackDate(endAt)
	if err != nil {
		return IssueBetProcedure{}, err
	}
	p.CloseDate = closePacked
	p.EndDate = endPacked
	p.AmountPerSlot = amountPerSlot
	p.MaxSlots = uint32(maxSlots)
	p.OptionCount = uint32(len(options))
	return p, nil
}

// Marshal renders the procedure as its fixed 600-byte little-endian wire
// form.
func (p IssueBetProcedure) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Write(p.Description[:])
	for _, o := range p.OptionIDs {
		buf.Write(o[:])
	}
	for _, o := range p.OracleIDs {
		buf.Write(o[:])
	}
	for _, f := range p.OracleFees {
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	_ = binary.Write(buf, binary.LittleEndian, p.CloseDate)
	_ = binary.Write(buf, binary.LittleEndian, p.EndDate)
	_ = binary.Write(buf, binary.LittleEndian, p.AmountPerSlot)
	_ = binary.Write(buf, binary.LittleEndian, p.MaxSlots)
	_ = binary.Write(buf, binary.LittleEndian, p.OptionCount)
	return buf.Bytes()
}

// JoinBetProcedure is the 12-byte joinBet payload.
type JoinBetProcedure struct {
	BetID     uint32
	SlotCount uint32
	Option    uint32
}

func (p JoinBetProcedure) Marshal() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

// PublishResultProcedure is the 8-byte publishResult payload.
type PublishResultProcedure struct {
	BetID         uint32
	WinningOption uint32
}

func (p PublishResultProcedure) Marshal() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

// CancelBetProcedure is the 4-byte cancelBet payload.
type CancelBetProcedure struct {
	BetID uint32
}

func (p CancelBetProcedure) Marshal() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}
