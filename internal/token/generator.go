// Package token выпускает одноразовые QR-токены для передачи товара.
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	alphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	length      = 12
	maxAttempts = 5
)

// Lookup проверяет, занят ли токен другим предложением
type Lookup interface {
	QRTokenExists(ctx context.Context, token string) (bool, error)
}

// Generator выпускает токены, которых еще нет в хранилище
type Generator struct {
	now func() time.Time
}

// NewGenerator создает генератор с системными часами
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// New возвращает свободный токен. После maxAttempts коллизий
// возвращается ULID в нижнем регистре.
func (g *Generator) New(ctx context.Context, lookup Lookup) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate, err := random(length)
		if err != nil {
			return "", err
		}
		exists, err := lookup.QRTokenExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("token lookup: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}

	id, err := ulid.New(ulid.Timestamp(g.now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("token fallback: %w", err)
	}
	return strings.ToLower(id.String()), nil
}

func random(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("token entropy: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
