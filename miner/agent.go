package miner

import (
	"sync"
	"sync/atomic"

	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
)

// yieldEvery is the interval, in hashes, of an extra check of the stop
// channel; the mining loop also checks the stop channel before every hash.
const yieldEvery = 4096

// task is one agent's share of the nonce space for a single mining attempt:
// nonce = start, start+stride, start+2*stride, ... for up to budget steps.
type task struct {
	prefix     []byte
	difficulty int
	start      uint64
	stride     uint64
	budget     uint64
}

// result is what an agent reports back: either a winning nonce or, if its
// budget was exhausted first, found == false.
type result struct {
	nonce uint64
	hash  [32]byte
	found bool
}

// cpuAgent searches one stride of the nonce space, mirroring the teacher's
// work/agent.go CpuAgent: a work channel feeds it tasks, a stop channel
// cancels the current search, and a dedicated goroutine owns its state.
type cpuAgent struct {
	mu sync.Mutex

	workCh        chan *task
	quitCurrentOp chan struct{}
	returnCh      chan<- result

	isMining int32
	done     chan struct{}
}

func newCPUAgent(returnCh chan<- result) *cpuAgent {
	return &cpuAgent{
		workCh:   make(chan *task, 1),
		returnCh: returnCh,
		done:     make(chan struct{}),
	}
}

func (a *cpuAgent) submit(t *task) {
	a.mu.Lock()
	if a.quitCurrentOp != nil {
		close(a.quitCurrentOp)
	}
	a.quitCurrentOp = make(chan struct{})
	stop := a.quitCurrentOp
	a.mu.Unlock()
	go a.mine(t, stop)
}

// cancel stops whatever search is currently in flight, if any.
func (a *cpuAgent) cancel() {
	a.mu.Lock()
	if a.quitCurrentOp != nil {
		close(a.quitCurrentOp)
		a.quitCurrentOp = nil
	}
	a.mu.Unlock()
}

func (a *cpuAgent) mine(t *task, stop <-chan struct{}) {
	if !atomic.CompareAndSwapInt32(&a.isMining, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&a.isMining, 0)

	nonce := t.start
	var steps uint64
	for steps < t.budget {
		select {
		case <-stop:
			return
		default:
		}

		h := crypto.PowHash(t.prefix, nonce)
		if crypto.MeetsDifficulty(h, t.difficulty) {
			select {
			case a.returnCh <- result{nonce: nonce, hash: h, found: true}:
			case <-stop:
			}
			return
		}

		nonce += t.stride
		steps++
		if steps%yieldEvery == 0 {
			select {
			case <-stop:
				return
			default:
			}
		}
	}

	select {
	case a.returnCh <- result{found: false}:
	case <-stop:
	}
}
