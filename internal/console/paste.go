package console

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

var (
	pasteStart = []byte("\x1b[200~")
	pasteEnd   = []byte("\x1b[201~")
)

// PasteReader wraps stdin in bracketed paste mode. Pasted text reaches
// readline as a single line: line breaks inside a paste become spaces, so a
// multi-line instruction is sent as one message.
type PasteReader struct {
	src io.ReadCloser

	mu      sync.Mutex
	out     bytes.Buffer
	paste   bytes.Buffer
	inPaste bool
	partial []byte // possible start of an escape sequence split across reads
}

// NewPasteReader wraps src.
func NewPasteReader(src io.ReadCloser) *PasteReader {
	return &PasteReader{src: src}
}

// Read implements io.Reader.
func (r *PasteReader) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.out.Len() > 0 {
			n, _ := r.out.Read(p)
			r.mu.Unlock()
			return n, nil
		}
		r.mu.Unlock()

		buf := make([]byte, 4096)
		n, err := r.src.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.feed(buf[:n])
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			// Flush whatever was held back; the sequence will never complete.
			r.emit(r.partial)
			r.partial = nil
			if r.inPaste {
				r.out.WriteString(flatten(r.paste.String()))
				r.paste.Reset()
				r.inPaste = false
			}
			pending := r.out.Len()
			r.mu.Unlock()
			if pending > 0 {
				continue
			}
			return 0, err
		}
	}
}

// Close closes the wrapped reader.
func (r *PasteReader) Close() error {
	return r.src.Close()
}

// feed routes data to out or to the paste buffer. Caller holds mu.
func (r *PasteReader) feed(data []byte) {
	data = append(r.partial, data...)
	r.partial = nil

	for len(data) > 0 {
		marker := pasteStart
		if r.inPaste {
			marker = pasteEnd
		}
		if idx := bytes.Index(data, marker); idx >= 0 {
			r.emit(data[:idx])
			data = data[idx+len(marker):]
			if r.inPaste {
				r.out.WriteString(flatten(r.paste.String()))
				r.paste.Reset()
			}
			r.inPaste = !r.inPaste
			continue
		}
		keep := suffixOverlap(data, marker)
		r.emit(data[:len(data)-keep])
		r.partial = append(r.partial, data[len(data)-keep:]...)
		return
	}
}

func (r *PasteReader) emit(b []byte) {
	if r.inPaste {
		r.paste.Write(b)
	} else {
		r.out.Write(b)
	}
}

// flatten joins the lines of a paste with single spaces.
func flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// suffixOverlap returns the length of the longest suffix of data that is a
// proper prefix of seq.
func suffixOverlap(data, seq []byte) int {
	n := len(seq) - 1
	if n > len(data) {
		n = len(data)
	}
	for l := n; l > 0; l-- {
		if bytes.Equal(data[len(data)-l:], seq[:l]) {
			return l
		}
	}
	return 0
}
