package line

// Encode returns msg followed by delim. Delimiter bytes inside msg are not
// escaped; the peer will see them as frame boundaries.
func Encode(msg string, delim byte) []byte {
	return AppendEncode(make([]byte, 0, len(msg)+1), msg, delim)
}

func AppendEncode(dst []byte, msg string, delim byte) []byte {
	dst = append(dst, msg...)
	return append(dst, delim)
}
