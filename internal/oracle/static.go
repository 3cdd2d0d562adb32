package oracle

import (
	"context"
	"sync"
	"time"

	"ms-lottery/internal/models"
)

// Static is a development oracle: a memo is confirmed only after Register was
// called for it. It never talks to the network.
type Static struct {
	mu       sync.RWMutex
	payments map[string]models.PaymentEvidence
}

func NewStatic() *Static {
	return &Static{payments: make(map[string]models.PaymentEvidence)}
}

// Register marks memo as paid with the given amount.
func (s *Static) Register(memo string, amountNano uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[memo] = models.PaymentEvidence{
		TxHash:     "static-" + memo,
		AmountNano: amountNano,
		Memo:       memo,
		Source:     "static",
		Utime:      time.Now().Unix(),
	}
}

func (s *Static) Verify(_ context.Context, req Request) Outcome {
	s.mu.RLock()
	ev, ok := s.payments[req.Memo]
	s.mu.RUnlock()
	if !ok || ev.AmountNano < req.ExpectedNano {
		return NotObserved()
	}
	ev.Destination = req.ExpectedAddress
	return ConfirmedWith(ev)
}
