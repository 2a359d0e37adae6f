package service

import (
	"strconv"
	"sync"
	"time"
)

// RequestIDGenerator выдаёт идентификаторы заявок из времени в миллисекундах.
// Идентификаторы строго возрастают в пределах процесса: при совпадении
// миллисекунды берётся предыдущее значение + 1. После рестарта уникальность
// не гарантируется, если часы ушли назад.
type RequestIDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewRequestIDGenerator создаёт генератор идентификаторов заявок.
func NewRequestIDGenerator() *RequestIDGenerator {
	return &RequestIDGenerator{now: time.Now}
}

// Next возвращает следующий идентификатор.
func (g *RequestIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return strconv.FormatInt(id, 10)
}
