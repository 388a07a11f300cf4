package rules

// defaultSeed replaces a zero seed, which would lock xorshift at zero.
const defaultSeed = 3210123505555

// Rand is a xorshift64* generator. Searches need one cheap, seedable,
// lock-free stream per worker so runs can be replayed from a seed.
type Rand struct {
	s uint64
}

func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = defaultSeed
	}
	return &Rand{s: seed}
}

func (r *Rand) Uint64() uint64 {
	r.s ^= r.s >> 12
	r.s ^= r.s << 25
	r.s ^= r.s >> 27
	return r.s * 0x2545F4914F6CDD1D
}

// Intn returns a value in [0, n) using the high 32 bits.
func (r *Rand) Intn(n int) int {
	x := r.Uint64() >> 32
	return int((x * uint64(n)) >> 32)
}

// Float32 returns a value in [0, 1) with 24 bits of precision.
func (r *Rand) Float32() float32 {
	return float32(r.Uint64()>>40) * (1.0 / (1 << 24))
}

// Range returns a value in [lo, hi).
func (r *Rand) Range(lo, hi float32) float32 {
	return lo + r.Float32()*(hi-lo)
}

// Shuffle is a Fisher-Yates shuffle driven by Intn.
func (r *Rand) Shuffle(xs []int) {
	for i := len(xs) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}
