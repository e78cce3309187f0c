package internal

const (
	bitsize = 32 << (^uint(0) >> 63)
	// highest bit that CeilToPowerOfTwo can still round up into
	maxintHeadBit = 1 << (bitsize - 2)
)

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// CeilToPowerOfTwo returns the smallest power of two >= n, never less than 2.
func CeilToPowerOfTwo(n int) int {
	if n&maxintHeadBit != 0 && n > maxintHeadBit {
		panic("argument is too large")
	}
	if n <= 2 {
		return 2
	}
	n--
	n = fillBits(n)
	n++
	return n
}

// fillBits sets every bit below the highest set bit, e.g. 0b1000 -> 0b1111.
func fillBits(n int) int {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n
}
