package stream

import (
	"errors"
	"strconv"
	"strings"
)

// Range header errors; both are answered with 416.
var (
	ErrMalformedRange     = errors.New("malformed range header")
	ErrUnsatisfiableRange = errors.New("range not satisfiable")
)

// ByteRange is an inclusive span of a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Length is the number of bytes in the inclusive range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange interprets a Range header against a file of size bytes. It
// reports ok=false when header is empty. Only a single "bytes" range is
// accepted; an end past the file is clamped and "bytes=-N" selects the last
// N bytes.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{}, false, nil
	}
	set, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return ByteRange{}, true, ErrMalformedRange
	}
	if strings.Contains(set, ",") {
		return ByteRange{}, true, ErrMalformedRange
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return ByteRange{}, true, ErrMalformedRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := parseOffset(endStr)
		if err != nil {
			return ByteRange{}, true, err
		}
		if n == 0 || size == 0 {
			return ByteRange{}, true, ErrUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, true, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return ByteRange{}, true, err
	}
	end := size - 1
	if endStr != "" {
		if end, err = parseOffset(endStr); err != nil {
			return ByteRange{}, true, err
		}
		if start > end {
			return ByteRange{}, true, ErrMalformedRange
		}
	}
	if start >= size {
		return ByteRange{}, true, ErrUnsatisfiableRange
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, ErrMalformedRange
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrMalformedRange
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformedRange
	}
	return n, nil
}
