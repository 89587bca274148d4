package session

import (
	"fmt"
	"sync/atomic"
)

// TokenGenerator hands out connection tokens unique within the process.
type TokenGenerator struct {
	prefix  string
	counter uint64
}

func NewTokenGenerator(prefix string) *TokenGenerator {
	return &TokenGenerator{prefix: prefix}
}

func (g *TokenGenerator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-conn-%d", g.prefix, n)
}
