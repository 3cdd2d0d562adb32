package generator

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"ms-lottery/internal/models"
)

// TicketIDPrefix namespaces ticket ids; it is also what payers see in the memo.
const TicketIDPrefix = "TONLOTO"

// randomSpace is the size of the random component of a ticket id (12 digits).
var randomSpace = big.NewInt(1_000_000_000_000)

// Generator draws lottery numbers and ticket ids from a randomness source.
// Its output is only advisory-unique: the store's unique key is what makes a
// ticket id unique.
type Generator struct {
	rnd io.Reader
	now func() time.Time
}

// New probes rnd once. An unusable randomness source is a startup failure.
func New(rnd io.Reader) (*Generator, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	probe := make([]byte, 8)
	if _, err := io.ReadFull(rnd, probe); err != nil {
		return nil, fmt.Errorf("randomness source unavailable: %w", err)
	}
	return &Generator{rnd: rnd, now: time.Now}, nil
}

// NewDefault uses crypto/rand.
func NewDefault() (*Generator, error) {
	return New(rand.Reader)
}

// WithClock replaces the time source; used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// NewTicketID returns TONLOTO_<12 random digits>_<unix millis>.
func (g *Generator) NewTicketID() string {
	n := g.intn(randomSpace)
	return fmt.Sprintf("%s_%012d_%d", TicketIDPrefix, n.Int64(), g.now().UnixMilli())
}

// DrawNumbers samples NumbersPerTicket distinct values without replacement
// from [MinNumber, MaxNumber], sorted ascending, plus an independently drawn
// bonus from the same range. The bonus may equal one of the main numbers.
func (g *Generator) DrawNumbers() (models.Numbers, int) {
	domain := make([]int, 0, models.MaxNumber-models.MinNumber+1)
	for v := models.MinNumber; v <= models.MaxNumber; v++ {
		domain = append(domain, v)
	}

	// partial Fisher-Yates: the first NumbersPerTicket slots end up uniform
	for i := 0; i < models.NumbersPerTicket; i++ {
		j := i + int(g.intn(big.NewInt(int64(len(domain)-i))).Int64())
		domain[i], domain[j] = domain[j], domain[i]
	}

	numbers := make(models.Numbers, models.NumbersPerTicket)
	copy(numbers, domain[:models.NumbersPerTicket])
	sort.Ints(numbers)

	bonus := models.MinNumber + int(g.intn(big.NewInt(int64(models.MaxNumber-models.MinNumber+1))).Int64())
	return numbers, bonus
}

func (g *Generator) intn(max *big.Int) *big.Int {
	n, err := rand.Int(g.rnd, max)
	if err != nil {
		// the source was probed in New; losing it afterwards is not recoverable
		panic(fmt.Sprintf("generator: randomness source failed: %v", err))
	}
	return n
}
