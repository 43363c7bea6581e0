package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var suffixSpace = big.NewInt(1_000_000)

// NumberGenerator returns a candidate order number for the given instant.
type NumberGenerator func(now time.Time) string

// RandomNumberGenerator builds <PREFIX>-YYYYMMDD-<6 random digits>.
func RandomNumberGenerator(prefix string) NumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "ORD"
	}
	return func(now time.Time) string {
		n, err := rand.Int(rand.Reader, suffixSpace)
		if err != nil {
			n = big.NewInt(now.UnixNano() % suffixSpace.Int64())
		}
		return fmt.Sprintf("%s-%s-%06d", prefix, now.UTC().Format("20060102"), n.Int64())
	}
}
