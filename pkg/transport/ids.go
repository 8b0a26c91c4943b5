package transport

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"
)

var ErrServerFull = eris.New("no client ids left")

// IDPool issues client ids starting at 1. Released ids are reused lowest
// first. It is safe for concurrent use.
type IDPool struct {
	mu    sync.Mutex
	used  map[ClientID]struct{}
	limit int
}

// NewIDPool creates a pool that holds at most limit ids at once. A limit of
// 0 means no limit besides the id range.
func NewIDPool(limit int) *IDPool {
	if limit <= 0 || limit > math.MaxUint16 {
		limit = math.MaxUint16
	}
	return &IDPool{used: make(map[ClientID]struct{}), limit: limit}
}

func (p *IDPool) Acquire() (ClientID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.used) >= p.limit {
		return 0, ErrServerFull
	}
	for id := 1; id <= math.MaxUint16; id++ {
		if _, ok := p.used[ClientID(id)]; !ok {
			p.used[ClientID(id)] = struct{}{}
			return ClientID(id), nil
		}
	}
	return 0, ErrServerFull
}

func (p *IDPool) Release(id ClientID) {
	p.mu.Lock()
	delete(p.used, id)
	p.mu.Unlock()
}
