package chainrpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Query indices for the Quottery contract's read-only procedures.
const (
	QueryGetNodeInfo     uint16 = 1
	QueryGetBetInfo      uint16 = 2
	QueryGetActiveBet    uint16 = 3
	QueryGetBetByCreator uint16 = 4
)

// NodeInfo is the response to getNodeInfo: the chain's current tick/epoch
// and the live per-slot-per-hour issue fee used by IssueFee.
type NodeInfo struct {
	Tick              uint32
	Epoch             uint32
	FeePerSlotPerHour uint32
}

func parseNodeInfo(b []byte) (NodeInfo, error) {
	var n NodeInfo
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.LittleEndian, &n.Tick); err != nil {
		return n, fmt.Errorf("chainrpc: parse node info tick: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.Epoch); err != nil {
		return n, fmt.Errorf("chainrpc: parse node info epoch: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.FeePerSlotPerHour); err != nil {
		return n, fmt.Errorf("chainrpc: parse node info fee: %w", err)
	}
	return n, nil
}

// BetInfoSize is the exact byte width of the getBetInfo response, per
// spec.md §4.5: "a ~692-byte struct with the layout documented in the
// source; the parser must preserve the exact field offsets." The offset
// layout here mirrors IssueBetProcedure (creator, description, option
// ids, oracle ids, oracle fees, dates, amount, slot/option counts) plus
// the runtime state fields a live bet accrues after issue: current state,
// a per-oracle vote bitmask, the pool total seen on-chain so far, the
// published result, and per-option slot counts.
const BetInfoSize = 692

// BetInfo is the parsed getBetInfo response.
type BetInfo struct {
	Creator             [32]byte
	Description         [32]byte
	OptionIDs           [maxOptions][32]byte
	OracleIDs           [maxOptions][32]byte
	OracleFees          [maxOptions]uint32
	CloseDate           uint32
	EndDate             uint32
	AmountPerSlot       int64
	MaxSlots            uint32
	OptionCount         uint32
	CurrentBetState     uint32
	OracleVoteMask      uint32
	CurrentTotalQus     int64
	Result              uint32
	CurrentSlotsPerOption [maxOptions]uint32
	reserved            [8]byte
}

// DescriptionString decodes the null-terminated description field.
func (b BetInfo) DescriptionString() string { return decodeID(b.Description[:]) }

func parseBetInfo(b []byte) (BetInfo, error) {
	var info BetInfo
	if len(b) < BetInfoSize {
		return info, fmt.Errorf("chainrpc: getBetInfo response too short: %d < %d", len(b), BetInfoSize)
	}
	r := bytes.NewReader(b[:BetInfoSize])
	fields := []interface{}{
		&info.Creator, &info.Description, &info.OptionIDs, &info.OracleIDs, &info.OracleFees,
		&info.CloseDate, &info.EndDate, &info.AmountPerSlot, &info.MaxSlots, &info.OptionCount,
		&info.CurrentBetState, &info.OracleVoteMask, &info.CurrentTotalQus, &info.Result,
		&info.CurrentSlotsPerOption, &info.reserved,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return info, fmt.Errorf("chainrpc: parse bet info: %w", err)
		}
	}
	return info, nil
}

// parseIDList parses the getActiveBet / getBetByCreator response shape:
// a u32 count followed by count × u32 ids.
func parseIDList(b []byte) ([]uint32, error) {
	r := bytes.NewReader(b)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("chainrpc: parse id list count: %w", err)
	}
	ids := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		var id uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("chainrpc: parse id list entry %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
