package chanmgr

import (
	"io"
	"sync"
)

// highWaterMark is the buffered-byte threshold above which pipe.push
// reports backpressure. Set to one packet size so a
// single slow consumer can't force the channel to buffer an unbounded
// multiple of the peer's window.
const highWaterMark = int(PacketSize)

// pipe is the readable end of a channel substream (primary or stderr). It
// is pushed to non-blockingly from the dispatch loop and read from
// blockingly by user code on another goroutine, mirroring a Node.js
// Readable stream's push()/read() split without requiring the core to
// block.
type pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bufs   [][]byte
	closed bool
	err    error

	// onDrain, if set, is invoked after every Read once the reader's own
	// lock is released. Channel wires it to recheck the corresponding
	// waitChanDrain flag and resume window credit once the buffer has
	// fallen back under highWaterMark.
	onDrain func()
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// push appends data for the reader and reports whether the buffer is
// still under the high water mark (true) or the caller should treat this
// as backpressure (false).
func (p *pipe) push(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return true // a closed end silently discards further pushes
	}
	if len(data) > 0 {
		cp := make([]byte, len(data))
		copy(cp, data)
		p.bufs = append(p.bufs, cp)
		p.cond.Broadcast()
	}
	return p.buffered() < highWaterMark
}

func (p *pipe) buffered() int {
	n := 0
	for _, b := range p.bufs {
		n += len(b)
	}
	return n
}

// pushEOF marks no more data will arrive; subsequent Read calls drain the
// remaining buffer then return io.EOF.
func (p *pipe) pushEOF() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = io.EOF
	}
	p.closed = true
	p.cond.Broadcast()
}

// closeErr aborts the pipe with a non-EOF error, e.g. when the channel is
// force-closed during teardown.
func (p *pipe) closeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = io.ErrClosedPipe
	}
	p.err = err
	p.closed = true
	p.cond.Broadcast()
}

// Read implements io.Reader for user code consuming channel data. It
// notifies onDrain after releasing its own lock, once per call, so a slow
// consumer catching up resumes inbound window credit without the reader
// and the channel's locks ever nesting.
func (p *pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	for len(p.bufs) == 0 {
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return 0, err
		}
		p.cond.Wait()
	}
	head := p.bufs[0]
	n := copy(b, head)
	if n == len(head) {
		p.bufs = p.bufs[1:]
	} else {
		p.bufs[0] = head[n:]
	}
	onDrain := p.onDrain
	p.mu.Unlock()
	if onDrain != nil {
		onDrain()
	}
	return n, nil
}

// drained reports whether the buffer has fallen back under the high
// water mark, used by Channel to decide when to clear waitChanDrain.
func (p *pipe) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered() < highWaterMark
}
