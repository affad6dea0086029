package sizeclass

// modInverseOdd computes the multiplicative inverse of the odd integer d
// modulo 2^64 using Newton-Raphson iteration (Hacker's Delight §10-16):
// every odd d satisfies d*d == 1 (mod 8), so x0 = d is correct to 3 bits;
// each iteration x_{n+1} = x_n*(2 - d*x_n) doubles the number of correct
// bits, so 5 iterations (3 -> 6 -> 12 -> 24 -> 48 -> 96) comfortably covers
// 64 bits. All arithmetic relies on uint64 wraparound, which is
// well-defined in Go.
func modInverseOdd(d uint64) uint64 {
	if d == 0 {
		panic("sizeclass: modInverseOdd(0)")
	}
	if d%2 == 0 {
		panic("sizeclass: modInverseOdd requires an odd divisor")
	}

	x := d
	for i := 0; i < 5; i++ {
		x = x * (2 - d*x)
	}
	return x
}
