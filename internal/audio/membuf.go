package audio

import (
	"errors"
	"io"
)

// memBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch its size fields on Close, which bytes.Buffer cannot do.
type memBuffer struct {
	buf []byte
	pos int
}

func (m *memBuffer) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, max(2*cap(m.buf), end))
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("membuf: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("membuf: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

// Bytes returns a copy of everything written.
func (m *memBuffer) Bytes() []byte {
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}

func (m *memBuffer) Len() int { return len(m.buf) }
