// README: Handshake code generation and comparison.
package walkrequest

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
)

// generateOTP returns a uniformly random numeric code with no leading zero.
func generateOTP(length int) (string, error) {
	if length < 4 || length > 6 {
		length = 4
	}
	low := int64(1)
	for i := 1; i < length; i++ {
		low *= 10
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9*low))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(low+n.Int64(), 10), nil
}

func otpEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
