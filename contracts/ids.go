package contracts

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	orderIDPrefix   = "ORD-"
	paymentIDPrefix = "PAY-"
	idSuffixLength  = 9
	base36Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewOrderID returns an order id such as ORD-K3J9Q0ZP1
func NewOrderID() string {
	return orderIDPrefix + randomBase36(idSuffixLength)
}

// NewPaymentID returns a payment id such as PAY-7YH2M4LQ8
func NewPaymentID() string {
	return paymentIDPrefix + randomBase36(idSuffixLength)
}

// NewCorrelationID returns a random (version 4) UUID
func NewCorrelationID() string {
	return uuid.NewString()
}

func randomBase36(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(base36Alphabet[rand.IntN(len(base36Alphabet))])
	}
	return b.String()
}
