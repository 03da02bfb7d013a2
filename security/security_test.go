package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddDescriptorDedups(t *testing.T) {
	s := New()
	id1 := s.AddDescriptor([]byte("descriptor-a"))
	id2 := s.AddDescriptor([]byte("descriptor-b"))
	id3 := s.AddDescriptor([]byte("descriptor-a"))

	assert.Equal(t, id1, id3, "identical descriptor bytes must dedup to the same id")
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, s.Size())
}

func TestAddDescriptorDenseFromZero(t *testing.T) {
	s := New()
	ids := make([]int, 5)
	for i := range ids {
		ids[i] = s.AddDescriptor([]byte{byte(i)})
	}
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
}

func TestGetOutOfRange(t *testing.T) {
	s := New()
	s.AddDescriptor([]byte("x"))
	assert.Nil(t, s.Get(NoSecurity))
	assert.Nil(t, s.Get(99))
	assert.Equal(t, []byte("x"), s.Get(0))
}

func TestAddDescriptorHashCollisionBucket(t *testing.T) {
	// Two distinct descriptors of the same length exercise the
	// hash+length bucket holding more than one candidate.
	s := New()
	id1 := s.AddDescriptor([]byte("AAAA"))
	id2 := s.AddDescriptor([]byte("BBBB"))
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, []byte("AAAA"), s.Get(id1))
	assert.Equal(t, []byte("BBBB"), s.Get(id2))
}
