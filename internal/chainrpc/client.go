package chainrpc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
)

// defaultFeePerSlotPerHour is used for IssueFee when getNodeInfo fails,
// per spec.md §4.5's "conservative 10" fallback.
const defaultFeePerSlotPerHour = 10

// SendResult is what the send pipeline returns for a broadcast
// transaction, per spec.md §4.5.
type SendResult struct {
	TxID       string
	TargetTick uint32
	TxSize     int
}

// Client is the chain RPC client: an endpoint ring with a sticky pointer
// and a per-call timeout, talking the Quottery binary protocol carried
// inside a thin JSON/base64 HTTP envelope.
type Client struct {
	httpClient *http.Client
	endpoints  []string
	sticky     int64 // atomic index into endpoints
}

// New builds a Client over a non-empty ring of RPC base URLs.
func New(endpoints []string, callTimeout time.Duration) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chainrpc: at least one RPC endpoint is required")
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: callTimeout},
		endpoints:  endpoints,
	}, nil
}

// withFailover tries each endpoint starting from the sticky pointer, in
// ring order, per spec.md §4.5: on failure at URL i, try i+1 mod N;
// success sets the sticky pointer to the endpoint that worked.
func (c *Client) withFailover(ctx context.Context, fn func(ctx context.Context, base string) ([]byte, error)) ([]byte, error) {
	n := len(c.endpoints)
	start := int(atomic.LoadInt64(&c.sticky)) % n
	var lastErr error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		resp, err := fn(ctx, c.endpoints[idx])
		if err == nil {
			atomic.StoreInt64(&c.sticky, int64(idx))
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrAllEndpointsDown, lastErr)
}

func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doPost(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

type balanceResponse struct {
	Balance struct {
		Balance string `json:"balance"`
	} `json:"balance"`
}

type smartContractQuery struct {
	ContractIndex int    `json:"contractIndex"`
	InputType     uint16 `json:"inputType"`
	InputSize     int    `json:"inputSize"`
	RequestData   string `json:"requestData"`
}

type smartContractResponse struct {
	ResponseData string `json:"responseData"`
}

// GetNodeInfo reads the chain's current tick/epoch and live issue fee.
// A response that fails to parse is returned as an error; IssueFee
// substitutes its conservative default when this call errors or reports a
// zero FeePerSlotPerHour.
func (c *Client) GetNodeInfo(ctx context.Context) (NodeInfo, error) {
	raw, err := c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		return c.queryContract(ctx, base, QueryGetNodeInfo, nil)
	})
	if err != nil {
		return NodeInfo{}, err
	}
	return parseNodeInfo(raw)
}

// GetBetInfo reads the full state of one on-chain bet.
func (c *Client) GetBetInfo(ctx context.Context, betID uint32) (BetInfo, error) {
	reqBuf := new(bytes.Buffer)
	_ = binary.Write(reqBuf, binary.LittleEndian, betID)
	raw, err := c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		return c.queryContract(ctx, base, QueryGetBetInfo, reqBuf.Bytes())
	})
	if err != nil {
		return BetInfo{}, err
	}
	return parseBetInfo(raw)
}

// GetActiveBet lists every currently active on-chain bet id.
func (c *Client) GetActiveBet(ctx context.Context) ([]uint32, error) {
	raw, err := c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		return c.queryContract(ctx, base, QueryGetActiveBet, nil)
	})
	if err != nil {
		return nil, err
	}
	return parseIDList(raw)
}

// GetBetByCreator lists every bet id issued by the given creator identity.
func (c *Client) GetBetByCreator(ctx context.Context, creatorIdentity string) ([]uint32, error) {
	pub, err := DecodeIdentity(creatorIdentity)
	if err != nil {
		return nil, err
	}
	raw, err := c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		return c.queryContract(ctx, base, QueryGetBetByCreator, pub[:])
	})
	if err != nil {
		return nil, err
	}
	return parseIDList(raw)
}

// GetBalance reads the live QU balance of an on-chain identity. This is a
// chain-level query rather than a Quottery contract procedure — none of
// the four named SC queries in spec.md §4.5 cover it, but the escrow
// deposit check and sweep path both require it, so it is implemented
// against the node's general account-balance endpoint instead of
// querySmartContract.
func (c *Client) GetBalance(ctx context.Context, identity string) (domain.QU, error) {
	raw, err := c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		return c.doGet(ctx, base+"/v1/balances/"+identity)
	})
	if err != nil {
		return domain.ZeroQU(), err
	}
	var resp balanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.ZeroQU(), fmt.Errorf("chainrpc: parse balance response: %w", err)
	}
	if resp.Balance.Balance == "" {
		return domain.ZeroQU(), nil
	}
	return domain.ParseQU(resp.Balance.Balance)
}

func (c *Client) queryContract(ctx context.Context, base string, inputType uint16, payload []byte) ([]byte, error) {
	q := smartContractQuery{
		ContractIndex: ContractIndex,
		InputType:     inputType,
		InputSize:     len(payload),
		RequestData:   base64.StdEncoding.EncodeToString(payload),
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	raw, err := c.doPost(ctx, base+"/v1/querySmartContract", body)
	if err != nil {
		return nil, err
	}
	var resp smartContractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	return base64.StdEncoding.DecodeString(resp.ResponseData)
}

// ──────────────────────────────────────────────────────────────────────────────
// Send pipeline
// ──────────────────────────────────────────────────────────────────────────────

type txEnvelope struct {
	Source      [32]byte
	Destination [32]byte
	Amount      int64
	Tick        uint32
	InputType   uint16
	InputSize   uint16
	Payload     []byte
}

func (t txEnvelope) marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Write(t.Source[:])
	buf.Write(t.Destination[:])
	_ = binary.Write(buf, binary.LittleEndian, t.Amount)
	_ = binary.Write(buf, binary.LittleEndian, t.Tick)
	_ = binary.Write(buf, binary.LittleEndian, t.InputType)
	_ = binary.Write(buf, binary.LittleEndian, t.InputSize)
	buf.Write(t.Payload)
	return buf.Bytes()
}

type broadcastRequest struct {
	EncodedTransaction string `json:"encodedTransaction"`
}

type broadcastResponse struct {
	TransactionID string `json:"transactionId"`
}

// send builds, signs, and broadcasts a transaction to destination carrying
// payload as a procedure call of inputType, per spec.md §4.5's send
// pipeline: derive identity from seed, build tx, sign, broadcast.
func (c *Client) send(ctx context.Context, seed string, destination [32]byte, amount int64, inputType uint16, payload []byte) (SendResult, error) {
	kp, err := DeriveKeyPair(seed)
	if err != nil {
		return SendResult{}, err
	}

	info, err := c.GetNodeInfo(ctx)
	if err != nil {
		return SendResult{}, err
	}
	targetTick := info.Tick + 5

	tx := txEnvelope{
		Source:      kp.PublicKey,
		Destination: destination,
		Amount:      amount,
		Tick:        targetTick,
		InputType:   inputType,
		InputSize:   uint16(len(payload)),
		Payload:     payload,
	}
	raw := tx.marshal()
	sig := Sign(seed, raw)
	full := append(append([]byte{}, raw...), sig[:]...)

	idSum := sha256.Sum256(full)
	txID := hex.EncodeToString(idSum[:])

	encoded := base64.StdEncoding.EncodeToString(full)
	_, err = c.withFailover(ctx, func(ctx context.Context, base string) ([]byte, error) {
		body, err := json.Marshal(broadcastRequest{EncodedTransaction: encoded})
		if err != nil {
			return nil, err
		}
		respRaw, err := c.doPost(ctx, base+"/v1/broadcast-transaction", body)
		if err != nil {
			return nil, err
		}
		var resp broadcastResponse
		if err := json.Unmarshal(respRaw, &resp); err != nil {
			return nil, fmt.Errorf("parse broadcast response: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return SendResult{}, err
	}

	return SendResult{TxID: txID, TargetTick: targetTick, TxSize: len(full)}, nil
}

// IssueBet broadcasts an issueBet call, paying the computed issue fee.
func (c *Client) IssueBet(ctx context.Context, seed string, proc IssueBetProcedure, issueFee int64) (SendResult, error) {
	return c.send(ctx, seed, QuotteryContractID, issueFee, ProcIssueBet, proc.Marshal())
}

// JoinBet broadcasts a joinBet call, moving amount from the escrow
// identity into the smart contract's pool for this bet.
func (c *Client) JoinBet(ctx context.Context, seed string, betID uint32, slots, option int, amount int64) (SendResult, error) {
	proc := JoinBetProcedure{BetID: betID, SlotCount: uint32(slots), Option: uint32(option)}
	return c.send(ctx, seed, QuotteryContractID, amount, ProcJoinBet, proc.Marshal())
}

// PublishResult broadcasts the resolved winning option for betID.
func (c *Client) PublishResult(ctx context.Context, seed string, betID uint32, winningOption int) (SendResult, error) {
	proc := PublishResultProcedure{BetID: betID, WinningOption: uint32(winningOption)}
	return c.send(ctx, seed, QuotteryContractID, 0, ProcPublishResult, proc.Marshal())
}

// CancelBet broadcasts a cancelBet call.
func (c *Client) CancelBet(ctx context.Context, seed string, betID uint32) (SendResult, error) {
	proc := CancelBetProcedure{BetID: betID}
	return c.send(ctx, seed, QuotteryContractID, 0, ProcCancelBet, proc.Marshal())
}

// Transfer broadcasts a plain QU transfer from seed's identity to
// destinationIdentity — used by the escrow sweep path, which moves funds
// directly between on-chain identities rather than through the contract.
func (c *Client) Transfer(ctx context.Context, seed string, destinationIdentity string, amount int64) (SendResult, error) {
	dest, err := DecodeIdentity(destinationIdentity)
	if err != nil {
		return SendResult{}, err
	}
	return c.send(ctx, seed, dest, amount, 0, nil)
}

// ──────────────────────────────────────────────────────────────────────────────
// Issue-fee computation
// ──────────────────────────────────────────────────────────────────────────────

// IssueFee computes the issueBet fee, per spec.md §4.5:
//
//	max_slots × option_count × fee_per_slot_per_hour × ceil(hours_until_end)
//
// fee_per_slot_per_hour is read live from getNodeInfo and falls back to a
// conservative default of 10 if that call fails.
func (c *Client) IssueFee(ctx context.Context, maxSlots, optionCount int, endAt time.Time) int64 {
	fee := int64(defaultFeePerSlotPerHour)
	if info, err := c.GetNodeInfo(ctx); err == nil && info.FeePerSlotPerHour > 0 {
		fee = int64(info.FeePerSlotPerHour)
	}
	hours := int64(math.Ceil(time.Until(endAt).Hours()))
	if hours < 1 {
		hours = 1
	}
	return int64(maxSlots) * int64(optionCount) * fee * hours
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet-id discovery
// ──────────────────────────────────────────────────────────────────────────────

// DiscoverBetID implements spec.md §4.5's bet-id discovery: list active
// bets, scan newest-first, and match by case-insensitive exact equality on
// the bet description. Returns 0, false if no match is found.
func (c *Client) DiscoverBetID(ctx context.Context, description string) (uint32, bool, error) {
	ids, err := c.GetActiveBet(ctx)
	if err != nil {
		return 0, false, err
	}
	want := toLowerASCII(description)
	for i := len(ids) - 1; i >= 0; i-- {
		info, err := c.GetBetInfo(ctx, ids[i])
		if err != nil {
			continue
		}
		if toLowerASCII(info.DescriptionString()) == want {
			return ids[i], true, nil
		}
	}
	return 0, false, nil
}
