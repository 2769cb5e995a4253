package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// readDeadliner is implemented by net.Conn.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// writeDeadliner is implemented by net.Conn.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// inactivityReader pushes the read deadline forward before every read, so
// the timeout measures silence rather than total line time.
type inactivityReader struct {
	r       io.Reader
	d       readDeadliner
	timeout time.Duration
}

func (ir *inactivityReader) Read(p []byte) (int, error) {
	if ir.d != nil && ir.timeout > 0 {
		if err := ir.d.SetReadDeadline(time.Now().Add(ir.timeout)); err != nil {
			return 0, err
		}
	}
	return ir.r.Read(p)
}

// Reader reads newline-terminated messages from a byte stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. If r supports read deadlines and timeout is positive,
// a read fails once timeout passes without a single byte arriving.
func NewReader(r io.Reader, timeout time.Duration) *Reader {
	ir := &inactivityReader{r: r, timeout: timeout}
	if d, ok := r.(readDeadliner); ok {
		ir.d = d
	}
	// Room for the longest line plus CRLF.
	return &Reader{br: bufio.NewReaderSize(ir, constants.MaxLineSize+2)}
}

// ReadLine returns the next line including its terminator.
//
// A line longer than MaxLineSize is consumed up to its terminator and
// reported as an Oversized *ParseError, leaving the stream aligned on the
// next line. Stream failures return a *TransportError.
func (r *Reader) ReadLine() ([]byte, error) {
	frag, err := r.br.ReadSlice('\n')
	switch {
	case err == nil:
		if n := trimmedLen(frag); n > constants.MaxLineSize {
			return nil, qerrors.NewOversizedError(n, constants.MaxLineSize)
		}
		line := make([]byte, len(frag))
		copy(line, frag)
		return line, nil

	case errors.Is(err, bufio.ErrBufferFull):
		total := len(frag)
		for {
			frag, err = r.br.ReadSlice('\n')
			total += len(frag)
			if err == nil {
				return nil, qerrors.NewOversizedError(total, constants.MaxLineSize)
			}
			if !errors.Is(err, bufio.ErrBufferFull) {
				return nil, classifyReadError(err)
			}
		}

	default:
		return nil, classifyReadError(err)
	}
}

func trimmedLen(b []byte) int {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return n
}

func classifyReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return qerrors.NewTransportError("read", qerrors.ErrConnectionClosed)
	}
	if isTimeout(err) {
		return qerrors.NewTransportError("read", qerrors.ErrTimeout)
	}
	return qerrors.NewTransportError("read", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Writer writes newline-terminated messages.
type Writer struct {
	w       io.Writer
	d       writeDeadliner
	timeout time.Duration
}

// NewWriter wraps w. If w supports write deadlines and timeout is positive,
// each line write is bounded by timeout.
func NewWriter(w io.Writer, timeout time.Duration) *Writer {
	wr := &Writer{w: w, timeout: timeout}
	if d, ok := w.(writeDeadliner); ok {
		wr.d = d
	}
	return wr
}

// WriteLine writes line followed by '\n' in a single write.
func (w *Writer) WriteLine(line []byte) error {
	if len(line) > constants.MaxLineSize {
		return qerrors.NewOversizedError(len(line), constants.MaxLineSize)
	}
	if w.d != nil && w.timeout > 0 {
		if err := w.d.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return qerrors.NewTransportError("write", err)
		}
	}

	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'

	if _, err := w.w.Write(buf); err != nil {
		if isTimeout(err) {
			return qerrors.NewTransportError("write", qerrors.ErrTimeout)
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return qerrors.NewTransportError("write", qerrors.ErrConnectionClosed)
		}
		return qerrors.NewTransportError("write", err)
	}
	return nil
}
