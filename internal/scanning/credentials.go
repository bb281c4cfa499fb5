package scanning

import (
	"math/rand/v2"
	"strings"
)

// SelectStrategy picks a credential out of a pool
type SelectStrategy int

const (
	// SelectRandom picks uniformly at random.
	SelectRandom SelectStrategy = iota
	// SelectFirst picks the first configured credential.
	SelectFirst
)

// CredentialPool holds the API keys of one remote provider. It is built once
// at startup and only read afterwards, so it is safe for concurrent use.
type CredentialPool struct {
	creds   []string
	shuffle func([]string)
}

// PoolOption configures a CredentialPool
type PoolOption func(*CredentialPool)

// WithShuffler replaces the random permutation used by ShuffledOrder.
func WithShuffler(shuffle func([]string)) PoolOption {
	return func(p *CredentialPool) {
		p.shuffle = shuffle
	}
}

// NewCredentialPool creates a pool from creds. Blank and duplicate entries are
// dropped; order is kept for SelectFirst.
func NewCredentialPool(creds []string, opts ...PoolOption) *CredentialPool {
	p := &CredentialPool{
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
	seen := make(map[string]bool, len(creds))
	for _, c := range creds {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		p.creds = append(p.creds, c)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len returns the number of credentials held.
func (p *CredentialPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.creds)
}

// Select returns one credential, or false when the pool is empty.
func (p *CredentialPool) Select(strategy SelectStrategy) (string, bool) {
	if p.Len() == 0 {
		return "", false
	}
	if strategy == SelectFirst {
		return p.creds[0], true
	}
	return p.creds[rand.IntN(len(p.creds))], true
}

// ShuffledOrder returns every credential in a fresh random permutation.
func (p *CredentialPool) ShuffledOrder() []string {
	if p.Len() == 0 {
		return nil
	}
	out := append([]string(nil), p.creds...)
	p.shuffle(out)
	return out
}

// maskCredential keeps the last four characters for diagnostics.
func maskCredential(c string) string {
	if c == "" {
		return ""
	}
	if len(c) <= 4 {
		return "****"
	}
	return "****" + c[len(c)-4:]
}
