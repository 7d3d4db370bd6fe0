package jsonnorm

// Normalize re-encodes data in compact form when it holds a single valid JSON
// value. Otherwise it returns data unchanged and false.
func Normalize(data []byte) ([]byte, bool) {
	v, err := Decode(data)
	if err != nil {
		return data, false
	}
	return v.AppendCompact(make([]byte, 0, len(data))), true
}

// NormalizeString is Normalize for text bodies.
func NormalizeString(s string) (string, bool) {
	out, ok := Normalize([]byte(s))
	if !ok {
		return s, false
	}
	return string(out), true
}
