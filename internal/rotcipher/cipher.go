package rotcipher

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrInvalidTuple is returned for nil, negative or zero-modulus tuples.
var ErrInvalidTuple = errors.New("rotcipher: invalid key tuple")

var mask = big.NewInt(0xff)

// Tuple is the seed material for one direction of a connection.
type Tuple [4]*big.Int

// String formats the tuple for logging.
func (t Tuple) String() string {
	return fmt.Sprintf("(%v, %v, %v, %v)", t[0], t[1], t[2], t[3])
}

// Cipher is a stateful rotating-key XOR transform.
type Cipher struct {
	mu         sync.Mutex
	key        *big.Int
	multiplier *big.Int
	modulus    *big.Int
	rotation   *big.Int
	scratch    *big.Int
}

// New builds a cipher from (k0, k1, k2, k3). The values are copied.
func New(k0, k1, k2, k3 *big.Int) (*Cipher, error) {
	for i, k := range []*big.Int{k0, k1, k2, k3} {
		if k == nil {
			return nil, fmt.Errorf("%w: k%d is nil", ErrInvalidTuple, i)
		}
		if k.Sign() < 0 {
			return nil, fmt.Errorf("%w: k%d is negative", ErrInvalidTuple, i)
		}
	}
	if k2.Sign() == 0 {
		return nil, fmt.Errorf("%w: modulus k2 is zero", ErrInvalidTuple)
	}

	return &Cipher{
		key:        new(big.Int).Set(k0),
		multiplier: new(big.Int).Set(k1),
		modulus:    new(big.Int).Set(k2),
		rotation:   new(big.Int).Set(k3),
		scratch:    new(big.Int),
	}, nil
}

// FromTuple builds a cipher from a derived tuple.
func FromTuple(t Tuple) (*Cipher, error) {
	return New(t[0], t[1], t[2], t[3])
}

// MustFromTuple is FromTuple for tuples already validated by the caller.
func MustFromTuple(t Tuple) *Cipher {
	c, err := FromTuple(t)
	if err != nil {
		panic(err)
	}
	return c
}

// Transform XORs every byte of p with the keystream, in place, and returns p.
// Applying Transform with a second cipher at the same position restores the
// original bytes.
func (c *Cipher) Transform(p []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range p {
		p[i] ^= byte(c.scratch.And(c.key, mask).Uint64())
		c.advance()
	}
	return p
}

// advance steps the live key: ((key + k3) * k1) mod k2.
func (c *Cipher) advance() {
	c.key.Add(c.key, c.rotation)
	c.key.Mul(c.key, c.multiplier)
	c.key.Mod(c.key, c.modulus)
}

// Key returns a copy of the live key.
func (c *Cipher) Key() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.key)
}

// Clone returns an independent cipher at the same keystream position.
func (c *Cipher) Clone() *Cipher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Cipher{
		key:        new(big.Int).Set(c.key),
		multiplier: new(big.Int).Set(c.multiplier),
		modulus:    new(big.Int).Set(c.modulus),
		rotation:   new(big.Int).Set(c.rotation),
		scratch:    new(big.Int),
	}
}
