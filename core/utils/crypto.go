package utils

import "crypto/subtle"

func ConstantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
