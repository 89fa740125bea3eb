package util

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
)

// MaxLineLength bounds a single protocol line (request line, header or
// broker command).
const MaxLineLength = 8 * 1024

// ErrLineTooLong is returned by [ReadLine] when a line exceeds
// [MaxLineLength].
var ErrLineTooLong = errors.New("line too long")

// ReadLine reads one LF-terminated line and strips the terminator
// (including an optional CR).  A final unterminated line is returned
// with a nil error; io.EOF is only returned when nothing was read.
func ReadLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if sb.Len()+len(chunk) > MaxLineLength {
			return "", ErrLineTooLong
		}
		sb.Write(chunk)
		if !isPrefix {
			return sb.String(), nil
		}
	}
}

// IsHarmless returns true for errors that are expected during shutdown
// or when a peer hangs up early.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
