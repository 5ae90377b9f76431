package httputil

import (
	"fmt"
	"io"
)

// DefaultMaxBodyBytes caps request bodies that carry inline image payloads.
const DefaultMaxBodyBytes = 24 << 20 // 24 MiB

// ReadAllWithLimit reads at most limit bytes from r. The second return value
// reports whether the reader held more data than the limit.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) < limit {
		return data, false, nil
	}

	// Probe one extra byte to distinguish exact-limit from truncation.
	var probe [1]byte
	n, err := r.Read(probe[:])
	if n > 0 {
		return data, true, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	return data, false, nil
}

// ReadAllStrict reads the full body and fails if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}
