package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAndSet(t *testing.T) {
	bf := New(9)
	assert.Len(t, bf, 2)
	assert.False(t, bf.Has(0))
	bf.Set(0)
	bf.Set(8)
	assert.True(t, bf.Has(0))
	assert.True(t, bf.Has(8))
	assert.False(t, bf.Has(1))
}

func TestValidatePaddingAcceptsZeroPad(t *testing.T) {
	bf := Bitfield([]byte{0b10000000})
	assert.True(t, bf.ValidatePadding(1))
}

func TestValidatePaddingRejectsSetPadBit(t *testing.T) {
	bf := Bitfield([]byte{0b10000001})
	assert.False(t, bf.ValidatePadding(1))
}

func TestValidatePaddingRejectsWrongLength(t *testing.T) {
	bf := Bitfield([]byte{0, 0})
	assert.False(t, bf.ValidatePadding(1))
}
