package service

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/iliyamo/meeting-sync/internal/repository"
)

const (
	// codeAlphabet leaves out 0/O and 1/I, which are easy to misread.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// DefaultCodeLength is the length of a room code.
	DefaultCodeLength = 8
	codeAttempts      = 5
)

// CodeChecker reports whether a room code is taken.
type CodeChecker interface {
	CodeExists(ctx context.Context, q repository.Querier, code string) (bool, error)
}

// CodeGenerator produces short public room codes.
type CodeGenerator struct {
	checker CodeChecker

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewCodeGenerator returns a generator drawing from src.  A nil src selects
// a ChaCha8 source seeded from crypto/rand; tests pass a fixed source.
func NewCodeGenerator(checker CodeChecker, src rand.Source) *CodeGenerator {
	if src == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		src = rand.NewChaCha8(seed)
	}
	return &CodeGenerator{checker: checker, rnd: rand.New(src)}
}

// Generate returns a code of the given length that no room uses yet.  It
// draws up to five candidates; when all of them collide it returns a code
// two characters longer without checking it, since the chance of that one
// colliding as well is negligible.
func (g *CodeGenerator) Generate(ctx context.Context, q repository.Querier, length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	for i := 0; i < codeAttempts; i++ {
		code := g.random(length)
		taken, err := g.checker.CodeExists(ctx, q, code)
		if err != nil {
			return "", fmt.Errorf("check room code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return g.random(length + 2), nil
}

func (g *CodeGenerator) random(length int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[g.rnd.IntN(len(codeAlphabet))]
	}
	return string(b)
}
