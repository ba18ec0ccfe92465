package foldersync

import "sort"

func uidSet(uids []uint32) map[uint32]struct{} {
	s := make(map[uint32]struct{}, len(uids))
	for _, u := range uids {
		s[u] = struct{}{}
	}
	return s
}

// uidsMinus returns a \ b.
func uidsMinus(a, b []uint32) []uint32 {
	inB := uidSet(b)
	var out []uint32
	for _, u := range a {
		if _, ok := inB[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

func sortUint32Desc(s []uint32) {
	sort.Slice(s, func(i, j int) bool { return s[i] > s[j] })
}

func sortUint64Desc(s []uint64) {
	sort.Slice(s, func(i, j int) bool { return s[i] > s[j] })
}

func chunkUint32(uids []uint32, size int) [][]uint32 {
	var chunks [][]uint32
	for len(uids) > 0 {
		n := size
		if n > len(uids) {
			n = len(uids)
		}
		chunks = append(chunks, uids[:n])
		uids = uids[n:]
	}
	return chunks
}

func chunkUint64(vals []uint64, size int) [][]uint64 {
	var chunks [][]uint64
	for len(vals) > 0 {
		n := size
		if n > len(vals) {
			n = len(vals)
		}
		chunks = append(chunks, vals[:n])
		vals = vals[n:]
	}
	return chunks
}
