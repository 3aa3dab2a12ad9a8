package utils

// MinUint64 returns the smaller of a or b
func MinUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
