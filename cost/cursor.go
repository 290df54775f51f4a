package cost

import "strconv"

func encodeCursor(seq uint64) string { return strconv.FormatUint(seq, 10) }

func decodeCursor(cursor string) uint64 {
	if cursor == "" {
		return 0
	}
	n, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
