package foldersync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUIDsMinus(t *testing.T) {
	// spec §8 scenario 5: local {1,2,3,4}, remote {1,3} -> removed {2,4}.
	got := uidsMinus([]uint32{1, 2, 3, 4}, []uint32{1, 3})
	assert.Equal(t, []uint32{2, 4}, got)
}

func TestUIDsMinusNoOverlap(t *testing.T) {
	got := uidsMinus([]uint32{1, 2}, nil)
	assert.Equal(t, []uint32{1, 2}, got)
}

func TestUIDsMinusEverythingRemoved(t *testing.T) {
	got := uidsMinus([]uint32{1, 2}, []uint32{1, 2, 3})
	assert.Nil(t, got)
}

func TestSortUint32Desc(t *testing.T) {
	s := []uint32{3, 1, 4, 1, 5}
	sortUint32Desc(s)
	assert.Equal(t, []uint32{5, 4, 3, 1, 1}, s)
}

func TestSortUint64Desc(t *testing.T) {
	// X-GM-THRID ordering used by expanded-thread download (§4.2 step 3).
	s := []uint64{100, 300, 200}
	sortUint64Desc(s)
	assert.Equal(t, []uint64{300, 200, 100}, s)
}

func TestChunkUint32(t *testing.T) {
	chunks := chunkUint32([]uint32{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]uint32{{1, 2}, {3, 4}, {5}}, chunks)
}

func TestChunkUint32Empty(t *testing.T) {
	assert.Nil(t, chunkUint32(nil, 2))
}

func TestChunkUint64ExactMultiple(t *testing.T) {
	chunks := chunkUint64([]uint64{1, 2, 3, 4}, 2)
	assert.Equal(t, [][]uint64{{1, 2}, {3, 4}}, chunks)
}

func TestChunkUint64LargerThanSlice(t *testing.T) {
	chunks := chunkUint64([]uint64{1, 2}, 500)
	assert.Equal(t, [][]uint64{{1, 2}}, chunks)
}
