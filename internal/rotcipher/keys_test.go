package rotcipher

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimeTable(t *testing.T) {
	primes := Primes()
	require.Len(t, primes, 131)
	assert.Equal(t, []int64{3, 5, 7, 11, 13}, primes[:5])
	assert.Equal(t, int64(743), primes[len(primes)-1])

	p, err := Prime(0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p)

	_, err = Prime(131)
	assert.Error(t, err)
	_, err = Prime(-1)
	assert.Error(t, err)
}

func TestPrimesReturnsCopy(t *testing.T) {
	p := Primes()
	p[0] = 4
	assert.Equal(t, int64(3), Primes()[0])
}

func TestDeriveTuple(t *testing.T) {
	tp := DeriveTuple(big.NewInt(1000), 7)
	assert.Equal(t, "(1000, 1021, 1056, 1105)", tp.String())
}

func TestDeriveKeySet(t *testing.T) {
	ks, err := DeriveKeySet(0, 1, big.NewInt(100), big.NewInt(200))
	require.NoError(t, err)

	// prime X = 3, prime Y = 5
	assert.Equal(t, "(100, 109, 124, 145)", ks.Upstream.String())
	assert.Equal(t, "(200, 215, 240, 275)", ks.Downstream.String())

	_, err = DeriveKeySet(500, 1, big.NewInt(1), big.NewInt(1))
	assert.Error(t, err)
	_, err = DeriveKeySet(0, 1, big.NewInt(-1), big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidTuple)
}

func TestServerAndClientCiphersMirror(t *testing.T) {
	ks, err := DeriveKeySet(4, 9, big.NewInt(987654321), big.NewInt(123456789))
	require.NoError(t, err)

	srvIn, srvOut, err := ks.ServerCiphers()
	require.NoError(t, err)
	cliIn, cliOut, err := ks.ClientCiphers()
	require.NoError(t, err)

	up := cliOut.Transform([]byte("to server"))
	assert.Equal(t, []byte("to server"), srvIn.Transform(up))

	down := srvOut.Transform([]byte("to client"))
	assert.Equal(t, []byte("to client"), cliIn.Transform(down))
}
