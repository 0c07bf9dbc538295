package spinclient

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	sum := md5.Sum([]byte("1650000000saltvalue"))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, Signature("1650000000", "saltvalue"))
	assert.Regexp(t, `^[0-9a-f]{32}$`, Signature("1", "2"))
	// concatenation order matters
	assert.NotEqual(t, Signature("a", "b"), Signature("b", "a"))
}

func TestIsValidSignature(t *testing.T) {
	key := Signature("1650000000", "saltvalue")

	t.Run("Valid", func(t *testing.T) {
		assert.True(t, IsValidSignature(key, "1650000000", "saltvalue"))
	})

	t.Run("SingleCharacterMutation", func(t *testing.T) {
		for i := range key {
			b := []byte(key)
			if b[i] == '0' {
				b[i] = '1'
			} else {
				b[i] = '0'
			}
			assert.False(t, IsValidSignature(string(b), "1650000000", "saltvalue"), "mutation at %d accepted", i)
		}
	})

	t.Run("UpperCase", func(t *testing.T) {
		assert.False(t, IsValidSignature("ABCDEF"+key[6:], "1650000000", "saltvalue"))
	})

	t.Run("WrongInputs", func(t *testing.T) {
		assert.False(t, IsValidSignature(key, "1650000001", "saltvalue"))
		assert.False(t, IsValidSignature(key, "1650000000", "other"))
		assert.False(t, IsValidSignature("", "1650000000", "saltvalue"))
		assert.False(t, IsValidSignature(key+"0", "1650000000", "saltvalue"))
	})
}
