// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build unix

package ports

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/barwire"
	"golang.org/x/sys/unix"
)

// frameBufLen is the size of the buffer used to receive one datagram.
const frameBufLen = barwire.MaxPayload + 64

// sockBufLen is the socket buffer size requested for senders. On some systems
// this also bounds the largest datagram that can be sent.
const sockBufLen = frameBufLen + 1024

// Dir is a namespace in which each name is a unix datagram socket in a
// directory. A frame is sent as a single datagram. A reply endpoint is a
// connected datagram socket pair; its send end travels with the request frame
// as an SCM_RIGHTS control message, so the receiver can answer directly.
type Dir struct {
	path string
}

// NewDir constructs a namespace rooted at path. The directory is created on
// first registration if it does not exist.
func NewDir(path string) *Dir { return &Dir{path: path} }

// Path reports the directory path of d.
func (d *Dir) Path() string { return d.path }

func (d *Dir) socketPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return "", fmt.Errorf("invalid endpoint name %q", name)
	}
	return filepath.Join(d.path, name), nil
}

// Lookup implements a method of the [barwire.Namespace] interface.
func (d *Dir) Lookup(name string) (barwire.Port, error) {
	path, err := d.socketPath(name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Mode().Type() != fs.ModeSocket {
		return nil, fmt.Errorf("lookup %q: %w", name, barwire.ErrNotFound)
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		// A socket file with no listener is a stale advertisement.
		return nil, fmt.Errorf("lookup %q: %w (%v)", name, barwire.ErrNotFound, err)
	}
	conn.SetWriteBuffer(sockBufLen)
	return &sockPort{conn: conn}, nil
}

// Register implements a method of the [barwire.Namespace] interface.
func (d *Dir) Register(name string, qlimit int) (barwire.Receiver, error) {
	path, err := d.socketPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.path, 0700); err != nil {
		return nil, err
	}

	// If a socket is present and something answers on it, the name is live.
	// Otherwise it is stale and can be replaced.
	if _, err := os.Lstat(path); err == nil {
		if c, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"}); err == nil {
			c.Close()
			return nil, barwire.ErrNameInUse
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, err
	}
	// Raise the inbound queue to hold qlimit typical frames. Not every system
	// honors the full request, which is not fatal.
	conn.SetReadBuffer(max(qlimit, 1) * 4096)

	r := newSockReceiver(conn)
	if fi, err := os.Lstat(path); err == nil {
		r.path, r.inode = path, fi
	}
	return r, nil
}

// NewReplyPort implements a method of the [barwire.Namespace] interface.
func (d *Dir) NewReplyPort() (barwire.Port, barwire.Receiver, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("allocate reply port: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	local, err := fileUnixConn(fds[0], "reply-recv")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	return &rightPort{file: os.NewFile(uintptr(fds[1]), "reply-send")}, newSockReceiver(local), nil
}

// fileUnixConn wraps the socket descriptor fd as a *net.UnixConn. The
// descriptor is consumed whether or not an error is reported.
func fileUnixConn(fd int, label string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), label)
	defer f.Close() // FileConn holds its own duplicate
	c, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("descriptor is %T, not a unix socket", c)
	}
	return uc, nil
}

// sockPort is a send right backed by a connected datagram socket.
type sockPort struct {
	conn *net.UnixConn
}

// Send implements a method of the [barwire.Port] interface.
func (p *sockPort) Send(f *barwire.Frame) error {
	var oob []byte
	if f.Reply != nil {
		rp, ok := f.Reply.(*rightPort)
		if !ok {
			return fmt.Errorf("reply right of type %T cannot be transferred", f.Reply)
		}
		fd, err := rp.fd()
		if err != nil {
			return err
		}
		oob = unix.UnixRights(fd)
	}
	buf := f.Encode()

	// The socket is connected, and the net package refuses WriteMsgUnix on a
	// connected datagram socket, so write the message on the descriptor.
	rc, err := p.conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := rc.Write(func(fd uintptr) bool {
		serr = unix.Sendmsg(int(fd), buf, oob, nil, 0)
		return serr != unix.EAGAIN
	}); err != nil {
		return err
	}
	if serr != nil {
		return os.NewSyscallError("sendmsg", serr)
	}
	return nil
}

// Close implements a method of the [barwire.Port] interface.
func (p *sockPort) Close() error { return p.conn.Close() }

// rightPort is the send end of a reply socket pair. It can be transferred to
// another process in a frame, or written to directly.
type rightPort struct {
	μ    sync.Mutex
	file *os.File
}

func (p *rightPort) fd() (int, error) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.file == nil {
		return -1, net.ErrClosed
	}
	var fd int
	rc, err := p.file.SyscallConn()
	if err != nil {
		return -1, err
	}
	if err := rc.Control(func(v uintptr) { fd = int(v) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// Send implements a method of the [barwire.Port] interface.
func (p *rightPort) Send(f *barwire.Frame) error {
	if f.Reply != nil {
		return errors.New("reply ports do not accept reply rights")
	}
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.file == nil {
		return net.ErrClosed
	}
	_, err := p.file.Write(f.Encode())
	return err
}

// Close implements a method of the [barwire.Port] interface.
func (p *rightPort) Close() error {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// sockReceiver is a receive right backed by a datagram socket.
type sockReceiver struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte

	// If set, the advertised socket file to remove on close.
	path  string
	inode os.FileInfo
	once  sync.Once
}

func newSockReceiver(conn *net.UnixConn) *sockReceiver {
	return &sockReceiver{
		conn: conn,
		buf:  make([]byte, frameBufLen),
		oob:  make([]byte, unix.CmsgSpace(4*4)), // room for a few descriptors
	}
}

// aLongTimeAgo is a non-zero time in the past, used to unblock a read.
var aLongTimeAgo = time.Unix(1, 0)

// Recv implements a method of the [barwire.Receiver] interface.
func (r *sockReceiver) Recv(ctx context.Context) (*barwire.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() { r.conn.SetReadDeadline(aLongTimeAgo) })
		n, oobn, flags, _, err := r.conn.ReadMsgUnix(r.buf, r.oob)
		stop()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}

		fds := parseRights(r.oob[:oobn])
		if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
			closeAll(fds) // discard the truncated frame and any rights it carried
			continue
		}

		f := new(barwire.Frame)
		if err := f.UnmarshalBinary(r.buf[:n]); err != nil {
			closeAll(fds)
			continue
		}
		if len(fds) != 0 {
			// Consume the first right as the reply port, release the rest.
			if uc, err := fileUnixConn(fds[0], "reply"); err == nil {
				f.Reply = &sockPort{conn: uc}
			}
			closeAll(fds[1:])
		}
		return f, nil
	}
}

// Close implements a method of the [barwire.Receiver] interface.
func (r *sockReceiver) Close() error {
	r.once.Do(func() {
		if r.path == "" {
			return
		}
		// Withdraw the name, unless another endpoint has since replaced it.
		if fi, err := os.Lstat(r.path); err == nil && os.SameFile(fi, r.inode) {
			os.Remove(r.path)
		}
	})
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// parseRights extracts any file descriptors carried by the control messages
// in oob. Malformed control data yields no descriptors.
func parseRights(oob []byte) []int {
	if len(oob) == 0 {
		return nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rs, err := unix.ParseUnixRights(&msgs[i])
		if err == nil {
			fds = append(fds, rs...)
		}
	}
	return fds
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
