package session

import (
	"fmt"
	"sync/atomic"
)

// Generator issues run IDs; each Start gets a fresh one.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(panelID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-run-%d", panelID, n)
}
