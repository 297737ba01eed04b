package submitter

import (
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Minimum contract ABI per spec §6:
//   mintBatch(string batchId, uint256 eventsCount, uint256 nonce, bytes32 merkleRoot)
//   selfRegisterCompany(string name)
//   getCompanyStats(address) -> (uint256, uint256, bool, string, uint256)
//
// submitBlocks is the spec's "equivalent ... for multi-block batches"; no
// signature is pinned, so this module defines one consistent with
// mintBatch's argument shapes, widened to arrays (documented in DESIGN.md).

func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func leftPad32(b []byte) [32]byte {
	var out [32]byte
	copy(out[32-len(b):], b)
	return out
}

func encodeUint256(v uint64) [32]byte {
	return leftPad32(new(big.Int).SetUint64(v).Bytes())
}

func encodeAddress(addr string) ([32]byte, error) {
	addr = strings.TrimPrefix(addr, "0x")
	raw, err := hexDecode(addr)
	if err != nil {
		return [32]byte{}, fmt.Errorf("submitter: invalid address %q: %w", addr, err)
	}
	return leftPad32(raw), nil
}

// encodeDynamicString ABI-encodes a single trailing dynamic string
// parameter: 32-byte length, then the UTF-8 bytes right-padded to a
// multiple of 32 bytes.
func encodeDynamicString(s string) []byte {
	length := leftPad32(new(big.Int).SetUint64(uint64(len(s))).Bytes())
	data := []byte(s)
	padded := (len(data) + 31) / 32 * 32
	out := make([]byte, 0, 32+padded)
	out = append(out, length[:]...)
	buf := make([]byte, padded)
	copy(buf, data)
	out = append(out, buf...)
	return out
}

// encodeMintBatch builds calldata for mintBatch(string,uint256,uint256,bytes32).
func encodeMintBatch(batchID string, eventsCount, nonce uint64, merkleRoot [32]byte) []byte {
	sel := selector("mintBatch(string,uint256,uint256,bytes32)")

	// head: offset-to-string (always 0x80, 4 static/offset slots precede
	// the dynamic tail), eventsCount, nonce, merkleRoot.
	offset := encodeUint256(4 * 32)
	ec := encodeUint256(eventsCount)
	n := encodeUint256(nonce)

	out := make([]byte, 0, 4+4*32+64+len(batchID))
	out = append(out, sel...)
	out = append(out, offset[:]...)
	out = append(out, ec[:]...)
	out = append(out, n[:]...)
	out = append(out, merkleRoot[:]...)
	out = append(out, encodeDynamicString(batchID)...)
	return out
}

// encodeSubmitBlocks builds calldata for a multi-block submission:
// submitBlocks(string[] batchIds, uint256[] eventsCounts, uint256[] nonces, bytes32[] merkleRoots).
// All four arrays must be the same length.
func encodeSubmitBlocks(batchIDs []string, eventsCounts, nonces []uint64, merkleRoots [][32]byte) ([]byte, error) {
	n := len(batchIDs)
	if len(eventsCounts) != n || len(nonces) != n || len(merkleRoots) != n {
		return nil, fmt.Errorf("submitter: mismatched array lengths in submitBlocks encoding")
	}

	sel := selector("submitBlocks(string[],uint256[],uint256[],bytes32[])")

	// Static head: four offsets (one per array parameter), 32 bytes each.
	var head [4][32]byte
	var tail []byte

	// uint256[] eventsCounts
	eventsOffset := len(tail)
	encArr := encodeUintArray(eventsCounts)

	// uint256[] nonces
	noncesOffset := eventsOffset + len(encArr)
	encArr2 := encodeUintArray(nonces)

	// bytes32[] merkleRoots
	rootsOffset := noncesOffset + len(encArr2)
	encArr3 := encodeBytes32Array(merkleRoots)

	// string[] batchIds (placed last since it is itself variable-width per
	// element)
	batchIDsOffset := rootsOffset + len(encArr3)
	encStrArr, err := encodeStringArray(batchIDs)
	if err != nil {
		return nil, err
	}

	headBase := 4 * 32 // four head slots
	head[0] = encodeUint256(uint64(headBase + batchIDsOffset))
	head[1] = encodeUint256(uint64(headBase + eventsOffset))
	head[2] = encodeUint256(uint64(headBase + noncesOffset))
	head[3] = encodeUint256(uint64(headBase + rootsOffset))

	tail = append(tail, encArr...)
	tail = append(tail, encArr2...)
	tail = append(tail, encArr3...)
	tail = append(tail, encStrArr...)

	out := make([]byte, 0, 4+headBase+len(tail))
	out = append(out, sel...)
	for _, h := range head {
		out = append(out, h[:]...)
	}
	out = append(out, tail...)
	return out, nil
}

func encodeUintArray(vals []uint64) []byte {
	out := make([]byte, 0, 32+32*len(vals))
	length := encodeUint256(uint64(len(vals)))
	out = append(out, length[:]...)
	for _, v := range vals {
		w := encodeUint256(v)
		out = append(out, w[:]...)
	}
	return out
}

func encodeBytes32Array(vals [][32]byte) []byte {
	out := make([]byte, 0, 32+32*len(vals))
	length := encodeUint256(uint64(len(vals)))
	out = append(out, length[:]...)
	for _, v := range vals {
		out = append(out, v[:]...)
	}
	return out
}

func encodeStringArray(vals []string) ([]byte, error) {
	headBase := 32 + 32*len(vals) // length word + one offset per element
	var head []byte
	var tail []byte

	lengthWord := encodeUint256(uint64(len(vals)))
	head = append(head, lengthWord[:]...)

	for _, s := range vals {
		off := encodeUint256(uint64(headBase - 32 + len(tail)))
		head = append(head, off[:]...)
		tail = append(tail, encodeDynamicString(s)...)
	}

	return append(head, tail...), nil
}

// encodeSelfRegisterCompany builds calldata for selfRegisterCompany(string).
func encodeSelfRegisterCompany(name string) []byte {
	sel := selector("selfRegisterCompany(string)")
	offset := encodeUint256(32)
	out := make([]byte, 0, 4+32+32+len(name))
	out = append(out, sel...)
	out = append(out, offset[:]...)
	out = append(out, encodeDynamicString(name)...)
	return out
}

// encodeGetCompanyStats builds calldata for getCompanyStats(address).
func encodeGetCompanyStats(addr string) ([]byte, error) {
	a, err := encodeAddress(addr)
	if err != nil {
		return nil, err
	}
	sel := selector("getCompanyStats(address)")
	out := make([]byte, 0, 4+32)
	out = append(out, sel...)
	out = append(out, a[:]...)
	return out, nil
}

// CompanyStats decodes the return of getCompanyStats(address) ->
// (uint256 totalEvents, uint256 totalTokens, bool registered, string name, uint256 eventsPerToken).
type CompanyStats struct {
	TotalEvents    uint64
	TotalTokens    uint64
	Registered     bool
	Name           string
	EventsPerToken uint64
}

func decodeGetCompanyStats(data []byte) (CompanyStats, error) {
	if len(data) < 5*32 {
		return CompanyStats{}, fmt.Errorf("submitter: getCompanyStats return too short: %d bytes", len(data))
	}
	totalEvents := new(big.Int).SetBytes(data[0:32]).Uint64()
	totalTokens := new(big.Int).SetBytes(data[32:64]).Uint64()
	registered := data[95] != 0
	nameOffset := new(big.Int).SetBytes(data[96:128]).Uint64()
	eventsPerToken := new(big.Int).SetBytes(data[128:160]).Uint64()

	if uint64(len(data)) < nameOffset+32 {
		return CompanyStats{}, fmt.Errorf("submitter: getCompanyStats name offset out of range")
	}
	nameLen := new(big.Int).SetBytes(data[nameOffset : nameOffset+32]).Uint64()
	start := nameOffset + 32
	if uint64(len(data)) < start+nameLen {
		return CompanyStats{}, fmt.Errorf("submitter: getCompanyStats name data out of range")
	}
	name := string(data[start : start+nameLen])

	return CompanyStats{
		TotalEvents:    totalEvents,
		TotalTokens:    totalTokens,
		Registered:     registered,
		Name:           name,
		EventsPerToken: eventsPerToken,
	}, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("submitter: invalid hex character %q", c)
	}
}
