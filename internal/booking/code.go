package booking

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeGenerator mints booking codes from a millisecond timestamp plus a
// random suffix, so codes are collision-resistant and hard to guess while
// still sorting roughly by creation time.
type CodeGenerator struct {
	prefix string
	now    func() time.Time
}

func NewCodeGenerator(prefix string) *CodeGenerator {
	if prefix == "" {
		prefix = "BK"
	}
	return &CodeGenerator{prefix: strings.ToUpper(prefix), now: time.Now}
}

// SetNow overrides the clock, for tests.
func (g *CodeGenerator) SetNow(now func() time.Time) { g.now = now }

func (g *CodeGenerator) NewCode() (string, error) {
	stamp := strings.ToUpper(strconv.FormatInt(g.now().UnixMilli(), 36))

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate booking code: %w", err)
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return g.prefix + stamp + string(suffix), nil
}
