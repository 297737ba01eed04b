package miner

import (
	"context"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
)

// pool is a fixed-size set of cpuAgents sharing one mining attempt by
// striding the nonce space: agent i searches start=i, i+n, i+2n, ..., so
// together they cover every nonce up to the iteration cap without
// overlapping work.
type pool struct {
	agents []*cpuAgent
}

func newPool(n int) *pool {
	if n <= 0 {
		n = 1
	}
	p := &pool{agents: make([]*cpuAgent, n)}
	return p
}

func (p *pool) cancelAll() {
	for _, a := range p.agents {
		a.cancel()
	}
}

// search runs one mining attempt over prefix/difficulty, returning the
// first nonce any agent finds. It returns errs.KindMiningTimeout if every
// agent exhausts its share of iterationCap without a match, and ctx.Err()
// if ctx is cancelled first.
func (p *pool) search(ctx context.Context, prefix []byte, difficulty int, iterationCap uint64) (uint64, [32]byte, error) {
	n := len(p.agents)
	perAgent := iterationCap/uint64(n) + 1

	returnCh := make(chan result, n)
	for i := range p.agents {
		p.agents[i] = newCPUAgent(returnCh)
		p.agents[i].submit(&task{
			prefix:     prefix,
			difficulty: difficulty,
			start:      uint64(i),
			stride:     uint64(n),
			budget:     perAgent,
		})
	}

	var zero [32]byte
	received := 0
	for received < n {
		select {
		case r := <-returnCh:
			received++
			if r.found {
				p.cancelAll()
				return r.nonce, r.hash, nil
			}
		case <-ctx.Done():
			p.cancelAll()
			return 0, zero, ctx.Err()
		}
	}

	return 0, zero, errs.New(errs.KindMiningTimeout, "miner", "search", "", errNoNonceFound)
}

var errNoNonceFound = errNonceNotFound{}

type errNonceNotFound struct{}

func (errNonceNotFound) Error() string { return "no nonce met the configured difficulty within the iteration cap" }
