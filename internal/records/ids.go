package records

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator выдаёт монотонные ULID (сортируются по времени создания).
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewIDGenerator() *IDGenerator {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDGenerator{entropy: ulid.Monotonic(src, 0)}
}

func (g *IDGenerator) New(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

// Clock — строго возрастающее время с точностью до микросекунды
// (столько хранит timestamptz в Postgres).
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
