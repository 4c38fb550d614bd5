// Package eth implements chain.Client against an EVM JSON-RPC endpoint and
// the medical-records registry contract.
package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/obs"
)

// registryABI covers the event signatures the engine mirrors plus the getUser
// view used for authoritative public-key reads. Event arguments are emitted
// unindexed by the contract, so payloads decode from log data alone.
const registryABI = `[
  {"type":"event","name":"RegistrationRequested","inputs":[{"name":"requestId","type":"uint256"},{"name":"name","type":"string"},{"name":"requester","type":"address"}]},
  {"type":"event","name":"InstitutionVerified","inputs":[{"name":"requestId","type":"uint256"},{"name":"hospitalId","type":"uint256"},{"name":"name","type":"string"},{"name":"admin","type":"address"}]},
  {"type":"event","name":"InstitutionRevoked","inputs":[{"name":"hospitalId","type":"uint256"}]},
  {"type":"event","name":"RoleAssigned","inputs":[{"name":"account","type":"address"},{"name":"role","type":"uint8"},{"name":"hospitalId","type":"uint256"}]},
  {"type":"event","name":"RoleRevoked","inputs":[{"name":"account","type":"address"}]},
  {"type":"event","name":"PublicKeySaved","inputs":[{"name":"account","type":"address"}]},
  {"type":"event","name":"RecordAdded","inputs":[{"name":"recordId","type":"uint256"},{"name":"owner","type":"address"},{"name":"title","type":"string"},{"name":"ipfsHash","type":"string"},{"name":"category","type":"string"},{"name":"uploadedBy","type":"address"},{"name":"timestamp","type":"uint256"}]},
  {"type":"event","name":"ProfessionalAccessRequested","inputs":[{"name":"requestId","type":"uint256"},{"name":"recordIds","type":"uint256[]"},{"name":"professional","type":"address"},{"name":"patient","type":"address"}]},
  {"type":"event","name":"AccessGranted","inputs":[{"name":"recordId","type":"uint256"},{"name":"professional","type":"address"},{"name":"patient","type":"address"},{"name":"expiration","type":"uint256"},{"name":"rewrappedKey","type":"string"}]},
  {"type":"event","name":"AccessRevoked","inputs":[{"name":"professional","type":"address"},{"name":"recordIds","type":"uint256[]"}]},
  {"type":"function","name":"getUser","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"publicKey","type":"string"},{"name":"role","type":"uint8"},{"name":"hospitalId","type":"uint256"}]}
]`

// Client talks JSON-RPC to a node and decodes registry contract logs.
type Client struct {
	ec       *ethclient.Client
	contract common.Address
	abi      abi.ABI
	topics   map[chain.Kind]common.Hash

	mu         sync.Mutex
	timestamps map[uint64]time.Time // block number -> timestamp, bounded
}

var _ chain.Client = (*Client)(nil)

// Block timestamps are immutable once mined; keep a bounded memo since many
// logs in a window share a block.
const timestampCacheSize = 4096

// Dial connects to the node and prepares the contract ABI.
func Dial(ctx context.Context, rpcURL, contractAddr string) (*Client, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	topics := make(map[chain.Kind]common.Hash, len(chain.Kinds()))
	for _, k := range chain.Kinds() {
		ev, ok := parsed.Events[k.String()]
		if !ok {
			return nil, fmt.Errorf("abi missing event %s", k)
		}
		topics[k] = ev.ID
	}
	return &Client{
		ec:         ec,
		contract:   common.HexToAddress(contractAddr),
		abi:        parsed,
		topics:     topics,
		timestamps: make(map[uint64]time.Time),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

func (c *Client) Head(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *Client) FilterEvents(ctx context.Context, kind chain.Kind, from, to uint64) ([]chain.Event, error) {
	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.topics[kind]}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs [%d,%d]: %w", kind, from, to, err)
	}
	events := make([]chain.Event, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.decode(kind, lg)
		if err != nil {
			// Malformed payloads are skipped, never fatal to the poll loop.
			obs.Event("warn", "chain: undecodable log", map[string]any{
				"kind":  kind.String(),
				"block": lg.BlockNumber,
				"tx":    lg.TxHash.Hex(),
				"error": err.Error(),
			})
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) UserRecord(ctx context.Context, address string) (chain.UserRecord, error) {
	data, err := c.abi.Pack("getUser", common.HexToAddress(address))
	if err != nil {
		return chain.UserRecord{}, fmt.Errorf("pack getUser: %w", err)
	}
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return chain.UserRecord{}, fmt.Errorf("call getUser(%s): %w", address, err)
	}
	vals, err := c.abi.Unpack("getUser", out)
	if err != nil || len(vals) != 3 {
		return chain.UserRecord{}, fmt.Errorf("unpack getUser(%s): %w", address, err)
	}
	return chain.UserRecord{
		PublicKey:  asString(vals[0]),
		RoleCode:   asUint8(vals[1]),
		HospitalID: asUint64(vals[2]),
	}, nil
}

func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	c.mu.Lock()
	if ts, ok := c.timestamps[block]; ok {
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	header, err := c.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", block, err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()

	c.mu.Lock()
	if len(c.timestamps) >= timestampCacheSize {
		c.timestamps = make(map[uint64]time.Time)
	}
	c.timestamps[block] = ts
	c.mu.Unlock()
	return ts, nil
}

func (c *Client) decode(kind chain.Kind, lg types.Log) (chain.Event, error) {
	vals, err := c.abi.Unpack(kind.String(), lg.Data)
	if err != nil {
		return nil, err
	}
	block := lg.BlockNumber
	switch kind {
	case chain.KindRegistrationRequested:
		if len(vals) != 3 {
			return nil, errArity(kind, len(vals))
		}
		return chain.RegistrationRequested{
			BlockNumber: block,
			RequestID:   asUint64(vals[0]),
			Name:        asString(vals[1]),
			Requester:   asAddress(vals[2]),
		}, nil
	case chain.KindInstitutionVerified:
		if len(vals) != 4 {
			return nil, errArity(kind, len(vals))
		}
		return chain.InstitutionVerified{
			BlockNumber: block,
			RequestID:   asUint64(vals[0]),
			HospitalID:  asUint64(vals[1]),
			Name:        asString(vals[2]),
			Admin:       asAddress(vals[3]),
		}, nil
	case chain.KindInstitutionRevoked:
		if len(vals) != 1 {
			return nil, errArity(kind, len(vals))
		}
		return chain.InstitutionRevoked{BlockNumber: block, HospitalID: asUint64(vals[0])}, nil
	case chain.KindRoleAssigned:
		if len(vals) != 3 {
			return nil, errArity(kind, len(vals))
		}
		return chain.RoleAssigned{
			BlockNumber: block,
			Account:     asAddress(vals[0]),
			RoleCode:    asUint8(vals[1]),
			HospitalID:  asUint64(vals[2]),
		}, nil
	case chain.KindRoleRevoked:
		if len(vals) != 1 {
			return nil, errArity(kind, len(vals))
		}
		return chain.RoleRevoked{BlockNumber: block, Account: asAddress(vals[0])}, nil
	case chain.KindPublicKeySaved:
		if len(vals) != 1 {
			return nil, errArity(kind, len(vals))
		}
		return chain.PublicKeySaved{BlockNumber: block, Account: asAddress(vals[0])}, nil
	case chain.KindRecordAdded:
		if len(vals) != 7 {
			return nil, errArity(kind, len(vals))
		}
		return chain.RecordAdded{
			BlockNumber: block,
			RecordID:    asUint64(vals[0]),
			Owner:       asAddress(vals[1]),
			Title:       asString(vals[2]),
			IPFSHash:    asString(vals[3]),
			Category:    asString(vals[4]),
			UploadedBy:  asAddress(vals[5]),
			Timestamp:   asUint64(vals[6]),
		}, nil
	case chain.KindAccessRequested:
		if len(vals) != 4 {
			return nil, errArity(kind, len(vals))
		}
		return chain.AccessRequested{
			BlockNumber:  block,
			RequestID:    asUint64(vals[0]),
			RecordIDs:    asUint64Slice(vals[1]),
			Professional: asAddress(vals[2]),
			Patient:      asAddress(vals[3]),
		}, nil
	case chain.KindAccessGranted:
		if len(vals) != 5 {
			return nil, errArity(kind, len(vals))
		}
		return chain.AccessGranted{
			BlockNumber:  block,
			RecordID:     asUint64(vals[0]),
			Professional: asAddress(vals[1]),
			Patient:      asAddress(vals[2]),
			ExpiresAt:    asUint64(vals[3]),
			RewrappedKey: asString(vals[4]),
		}, nil
	case chain.KindAccessRevoked:
		if len(vals) != 2 {
			return nil, errArity(kind, len(vals))
		}
		return chain.AccessRevoked{
			BlockNumber:  block,
			Professional: asAddress(vals[0]),
			RecordIDs:    asUint64Slice(vals[1]),
		}, nil
	}
	return nil, fmt.Errorf("unknown event kind %d", kind)
}

func errArity(kind chain.Kind, got int) error {
	return fmt.Errorf("%s: unexpected argument count %d", kind, got)
}

// ABI unpack helpers. Unpack returns *big.Int for uint256, common.Address for
// address, plain Go values otherwise; tolerate absent values as zeroes.

func asUint64(v any) uint64 {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b.Uint64()
	}
	return 0
}

func asUint8(v any) uint8 {
	switch t := v.(type) {
	case uint8:
		return t
	case *big.Int:
		if t != nil {
			return uint8(t.Uint64())
		}
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asAddress(v any) string {
	if a, ok := v.(common.Address); ok {
		return strings.ToLower(a.Hex())
	}
	return ""
}

func asUint64Slice(v any) []uint64 {
	bs, ok := v.([]*big.Int)
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(bs))
	for _, b := range bs {
		if b != nil {
			out = append(out, b.Uint64())
		}
	}
	return out
}
