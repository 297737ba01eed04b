package antifraud

import (
	"github.com/steakknife/bloomfilter"
)

// DuplicateFilter is a probabilistic duplicate check over payload_hash
// values. It is the only duplicate check the Guard makes: a hit is treated
// as a duplicate and the ledger is not consulted, so a false positive
// rejects a payload that was never seen before.
type DuplicateFilter struct {
	bf *bloomfilter.Filter
}

// NewDuplicateFilter builds a filter sized for maxElements with a false
// positive rate around falsePositiveRate (e.g. 0.001).
func NewDuplicateFilter(maxElements uint64, falsePositiveRate float64) (*DuplicateFilter, error) {
	bf, err := bloomfilter.NewOptimal(maxElements, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &DuplicateFilter{bf: bf}, nil
}

// SeenOrAdd reports whether payloadHash was probably already recorded
// (bloom filters admit false positives) and records it.
func (d *DuplicateFilter) SeenOrAdd(payloadHash [32]byte) bool {
	h := bloomfilter.NewHash(payloadHash[:])
	seen := d.bf.Contains(h)
	d.bf.Add(h)
	return seen
}
