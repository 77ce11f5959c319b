package storage

import (
	"errors"
	"io"

	"github.com/ruteri/artifact-repository-backend/interfaces"
)

var (
	errContentTooShort = errors.New("content shorter than declared length")
	errContentTooLong  = errors.New("content longer than declared length")
)

// checkedReader enforces the declared length of an upload. It never hands out
// more than the declared number of bytes and fails the read that reveals a
// mismatch, so a backend copying from it aborts before committing anything.
type checkedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

// newCheckedReader returns a reader over the content. Unknown-length content is
// only counted.
func newCheckedReader(c interfaces.Content) *checkedReader {
	return &checkedReader{r: c.Reader, remaining: c.Length}
}

func (c *checkedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		n, err := c.r.Read(p)
		c.read += int64(n)
		return n, err
	}

	if c.remaining == 0 {
		// Anything left in the stream beyond the declared length is an error
		var probe [1]byte
		n, err := io.ReadFull(c.r, probe[:])
		if n > 0 {
			return 0, errContentTooLong
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, err
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	c.read += int64(n)
	if err == io.EOF && c.remaining > 0 {
		return n, errContentTooShort
	}
	return n, err
}

// BytesRead returns the number of payload bytes consumed so far.
func (c *checkedReader) BytesRead() int64 {
	return c.read
}

func isLengthMismatch(err error) bool {
	return errors.Is(err, errContentTooShort) || errors.Is(err, errContentTooLong)
}
