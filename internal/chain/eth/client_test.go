package eth

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	topics := make(map[chain.Kind]common.Hash)
	for _, k := range chain.Kinds() {
		ev, ok := parsed.Events[k.String()]
		if !ok {
			t.Fatalf("abi missing event %s", k)
		}
		topics[k] = ev.ID
	}
	return &Client{
		abi:        parsed,
		topics:     topics,
		timestamps: make(map[uint64]time.Time),
	}
}

func packEvent(t *testing.T, c *Client, name string, args ...any) []byte {
	t.Helper()
	ev, ok := c.abi.Events[name]
	if !ok {
		t.Fatalf("no event %s", name)
	}
	data, err := ev.Inputs.Pack(args...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return data
}

func TestABICoversEveryKind(t *testing.T) {
	c := newTestClient(t)
	if len(c.topics) != len(chain.Kinds()) {
		t.Fatalf("expected %d topics, got %d", len(chain.Kinds()), len(c.topics))
	}
	seen := make(map[common.Hash]chain.Kind)
	for k, h := range c.topics {
		if prev, dup := seen[h]; dup {
			t.Fatalf("kinds %s and %s share topic %s", prev, k, h)
		}
		seen[h] = k
	}
}

func TestDecodeRecordAdded(t *testing.T) {
	c := newTestClient(t)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	uploader := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	data := packEvent(t, c, "RecordAdded",
		big.NewInt(42), owner, "X-Ray", "QmHash", "Imaging", uploader, big.NewInt(1_700_000_000))

	ev, err := c.decode(chain.KindRecordAdded, types.Log{Data: data, BlockNumber: 120})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec, ok := ev.(chain.RecordAdded)
	if !ok {
		t.Fatalf("unexpected event type %T", ev)
	}
	if rec.RecordID != 42 || rec.Title != "X-Ray" || rec.IPFSHash != "QmHash" {
		t.Fatalf("unexpected payload: %+v", rec)
	}
	if rec.Owner != strings.ToLower(owner.Hex()) {
		t.Fatalf("owner not lowercased: %s", rec.Owner)
	}
	if rec.Block() != 120 || rec.Kind() != chain.KindRecordAdded {
		t.Fatalf("unexpected event metadata: block=%d kind=%s", rec.Block(), rec.Kind())
	}
}

func TestDecodeAccessRevokedRecordIDs(t *testing.T) {
	c := newTestClient(t)
	prof := common.HexToAddress("0x00000000000000000000000000000000000000CC")
	data := packEvent(t, c, "AccessRevoked",
		prof, []*big.Int{big.NewInt(7), big.NewInt(9)})

	ev, err := c.decode(chain.KindAccessRevoked, types.Log{Data: data, BlockNumber: 5})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rev := ev.(chain.AccessRevoked)
	if len(rev.RecordIDs) != 2 || rev.RecordIDs[0] != 7 || rev.RecordIDs[1] != 9 {
		t.Fatalf("unexpected record ids: %v", rev.RecordIDs)
	}
}

func TestDecodeInstitutionVerified(t *testing.T) {
	c := newTestClient(t)
	admin := common.HexToAddress("0x00000000000000000000000000000000000000DD")
	data := packEvent(t, c, "InstitutionVerified",
		big.NewInt(3), big.NewInt(1), "City General", admin)

	ev, err := c.decode(chain.KindInstitutionVerified, types.Log{Data: data, BlockNumber: 9})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	iv := ev.(chain.InstitutionVerified)
	if iv.RequestID != 3 || iv.HospitalID != 1 || iv.Name != "City General" {
		t.Fatalf("unexpected payload: %+v", iv)
	}
}

func TestDecodeMalformedDataFails(t *testing.T) {
	c := newTestClient(t)
	_, err := c.decode(chain.KindRecordAdded, types.Log{Data: []byte{0x01, 0x02}, BlockNumber: 1})
	if err == nil {
		t.Fatal("expected decode error for truncated data")
	}
}

func TestDialRejectsBadContractAddress(t *testing.T) {
	_, err := Dial(t.Context(), "http://localhost:8545", "not-an-address")
	if err == nil {
		t.Fatal("expected error for invalid contract address")
	}
}
