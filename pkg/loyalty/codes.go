package loyalty

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet omits characters that are easily confused on printed cards (0/O, 1/I/L, U).
const codeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

const (
	codeGroups     = 3
	codeGroupWidth = 4
	codeSeparator  = "-"
)

// RandomCodes mints codes shaped like "XXXX-XXXX-XXXX" from crypto/rand.
type RandomCodes struct{}

// NewExternalCode returns a fresh random card code.
func (RandomCodes) NewExternalCode() (ExternalCode, error) {
	raw := make([]byte, codeGroups*codeGroupWidth)
	if _, err := rand.Read(raw); err != nil {
		return ExternalCode{}, fmt.Errorf("generate code: %w", err)
	}
	groups := make([]string, 0, codeGroups)
	for group := 0; group < codeGroups; group++ {
		var builder strings.Builder
		for _, value := range raw[group*codeGroupWidth : (group+1)*codeGroupWidth] {
			builder.WriteByte(codeAlphabet[int(value)%len(codeAlphabet)])
		}
		groups = append(groups, builder.String())
	}
	return NewExternalCode(strings.Join(groups, codeSeparator))
}
