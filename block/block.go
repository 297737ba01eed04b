// Package block holds the Block and SubmissionBatch entities shared by the
// miner, block store, scanner/batcher, and submitter/monitor (spec §3), to
// avoid those packages importing one another just for the shared types.
package block

// Status is a Block's lifecycle state, per spec §3.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Block is a signed, PoW-validated proof that a Batch exists and is owned
// by a given miner, per spec §3.
type Block struct {
	BlockID            string  `json:"block_id"`
	BatchID            string  `json:"batch_id"`
	CompanyID          string  `json:"company_id"`
	MinerAddress       string  `json:"miner_address"`
	EventsCount        uint64  `json:"events_count"`
	Nonce              uint64  `json:"nonce"`
	BlockHash          string  `json:"block_hash"` // hex, 32 bytes
	MerkleRoot         string  `json:"merkle_root"` // hex, 32 bytes
	HourBucket         uint64  `json:"hour_bucket"`
	Difficulty         int     `json:"difficulty"`
	Signature          string  `json:"signature"` // hex
	PublicKey          string  `json:"public_key"` // hex, uncompressed point
	Points             float64 `json:"points"`
	MinedAt            int64   `json:"mined_at"`
	Status             Status  `json:"status"`
	TxHash             string  `json:"tx_hash,omitempty"`
	ConfirmationBlock  uint64  `json:"confirmation_block,omitempty"`
	RetryCount         int     `json:"retry_count"`
}

// SubmissionStatus is a SubmissionBatch's lifecycle state, per spec §3/§4.8.
type SubmissionStatus string

const (
	SubStatusPending    SubmissionStatus = "PENDING"
	SubStatusSubmitting SubmissionStatus = "SUBMITTING"
	SubStatusSubmitted  SubmissionStatus = "SUBMITTED"
	SubStatusConfirmed  SubmissionStatus = "CONFIRMED"
	SubStatusFailed     SubmissionStatus = "FAILED"
	SubStatusRetry      SubmissionStatus = "RETRY"
)

// SubmissionBatch is a set of Blocks submitted in a single on-chain
// transaction, per spec §3.
type SubmissionBatch struct {
	SubmissionID string           `json:"submission_id"`
	BlockIDs     []string         `json:"block_ids"`
	TxHash       string           `json:"tx_hash,omitempty"`
	Status       SubmissionStatus `json:"status"`
	RetryCount   int              `json:"retry_count"`
	GasUsed      uint64           `json:"gas_used,omitempty"`
	GasPrice     uint64           `json:"gas_price,omitempty"`
	CreatedAt    int64            `json:"created_at"`
	SubmittedAt  int64            `json:"submitted_at,omitempty"`
	ConfirmedAt  int64            `json:"confirmed_at,omitempty"`
}

// validNextStatus enumerates the state machine of spec §4.8:
// PENDING -> SUBMITTING -> SUBMITTED -> (CONFIRMED | FAILED);
// FAILED -> RETRY -> SUBMITTING while retries remain.
var validNextStatus = map[SubmissionStatus]map[SubmissionStatus]bool{
	SubStatusPending:    {SubStatusSubmitting: true},
	SubStatusSubmitting: {SubStatusSubmitted: true, SubStatusFailed: true},
	SubStatusSubmitted:  {SubStatusConfirmed: true, SubStatusFailed: true},
	SubStatusFailed:     {SubStatusRetry: true},
	SubStatusRetry:      {SubStatusSubmitting: true},
	SubStatusConfirmed:  {},
}

// CanTransition reports whether from -> to is a legal SubmissionBatch
// transition per the state machine above.
func CanTransition(from, to SubmissionStatus) bool {
	return validNextStatus[from][to]
}
