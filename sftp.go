package sshcore

import (
	"fmt"
	"os"

	"github.com/pkg/sftp"
)

// SFTPSubsystem is the subset of *sftp.Client's surface SFTP returns,
// named separately so callers can substitute a fake in tests without
// importing github.com/pkg/sftp themselves.
type SFTPSubsystem interface {
	Open(path string) (*sftp.File, error)
	Create(path string) (*sftp.File, error)
	OpenFile(path string, f int) (*sftp.File, error)
	Remove(path string) error
	Rename(oldname, newname string) error
	Mkdir(path string) error
	RemoveDirectory(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Close() error
}

// channelWriteCloser adapts Channel's callback-based Write into the
// blocking io.WriteCloser github.com/pkg/sftp's client loop expects. The
// callback typically fires inline (chanmgr.Channel.flushLocked resolves it
// before Write even returns when window is available) or later, from the
// dispatch goroutine's handling of CHANNEL_WINDOW_ADJUST — either way this
// blocks the caller's own goroutine (SFTP runs the handshake on one of its
// own), never the dispatch loop.
type channelWriteCloser struct {
	ch Channel
}

func (w channelWriteCloser) Write(p []byte) (int, error) {
	done := make(chan struct{})
	var n int
	var err error
	w.ch.Write(p, func(wn int, werr error) {
		n, err = wn, werr
		close(done)
	})
	<-done
	return n, err
}

func (w channelWriteCloser) Close() error { return w.ch.Close() }

// SFTP opens the "sftp" subsystem channel and returns a github.com/pkg/sftp client speaking over it.
// The sftp version handshake blocks on channel data, so it runs on a
// goroutine of its own and done is called from there.
func (c *Client) SFTP(done func(SFTPSubsystem, error)) {
	c.Subsystem("sftp", Options{}, func(ch Channel, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		go func() {
			client, err := sftp.NewClientPipe(ch.Stdout(), channelWriteCloser{ch: ch})
			if err != nil {
				done(nil, fmt.Errorf("sshcore: sftp handshake failed: %w", err))
				return
			}
			done(client, nil)
		}()
	})
}
