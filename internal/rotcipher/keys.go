package rotcipher

import (
	"fmt"
	"math/big"
)

const (
	minPrime = 3
	maxPrime = 750
)

var primeTable = sieve(minPrime, maxPrime)

func sieve(lo, hi int) []int64 {
	composite := make([]bool, hi+1)
	var out []int64
	for i := 2; i <= hi; i++ {
		if composite[i] {
			continue
		}
		if i >= lo {
			out = append(out, int64(i))
		}
		for j := i * i; j <= hi; j += i {
			composite[j] = true
		}
	}
	return out
}

// Primes returns the shared prime table: every prime in [3, 750], ascending.
func Primes() []int64 {
	out := make([]int64, len(primeTable))
	copy(out, primeTable)
	return out
}

// Prime returns the prime at index i of the shared table.
func Prime(i int) (int64, error) {
	if i < 0 || i >= len(primeTable) {
		return 0, fmt.Errorf("rotcipher: prime index %d out of range [0, %d)", i, len(primeTable))
	}
	return primeTable[i], nil
}

// DeriveTuple expands a seed and a prime into a key tuple:
// (seed, seed+3p, seed+8p, seed+15p).
func DeriveTuple(seed *big.Int, prime int64) Tuple {
	p := big.NewInt(prime)
	var t Tuple
	for i := int64(0); i < 4; i++ {
		step := new(big.Int).Mul(p, big.NewInt(i*(i+2)))
		t[i] = step.Add(step, seed)
	}
	return t
}

// KeySet holds the tuples for both directions of a connection.
type KeySet struct {
	// Upstream keys client to server traffic.
	Upstream Tuple
	// Downstream keys server to client traffic.
	Downstream Tuple
}

// DeriveKeySet builds a KeySet from the provisioned prime indices and seeds.
func DeriveKeySet(primeX, primeY int, inboundSeed, outboundSeed *big.Int) (KeySet, error) {
	if inboundSeed == nil || outboundSeed == nil {
		return KeySet{}, fmt.Errorf("%w: missing seed", ErrInvalidTuple)
	}
	if inboundSeed.Sign() < 0 || outboundSeed.Sign() < 0 {
		return KeySet{}, fmt.Errorf("%w: negative seed", ErrInvalidTuple)
	}
	x, err := Prime(primeX)
	if err != nil {
		return KeySet{}, err
	}
	y, err := Prime(primeY)
	if err != nil {
		return KeySet{}, err
	}
	return KeySet{
		Upstream:   DeriveTuple(inboundSeed, x),
		Downstream: DeriveTuple(outboundSeed, y),
	}, nil
}

// ServerCiphers returns fresh (inbound, outbound) ciphers for a server session.
func (k KeySet) ServerCiphers() (in, out *Cipher, err error) {
	if in, err = FromTuple(k.Upstream); err != nil {
		return nil, nil, err
	}
	if out, err = FromTuple(k.Downstream); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// ClientCiphers returns fresh (inbound, outbound) ciphers for a client session.
func (k KeySet) ClientCiphers() (in, out *Cipher, err error) {
	if in, err = FromTuple(k.Downstream); err != nil {
		return nil, nil, err
	}
	if out, err = FromTuple(k.Upstream); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}
