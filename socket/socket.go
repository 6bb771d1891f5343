// Package socket implements local (AF_UNIX-style) datagram and stream
// sockets (§4.13). Grounded on the teacher's fs socket support for the
// bind/listen/accept/connect/sendto/recvfrom vocabulary, but a stream
// connection is built out of two adapted pipe.Pipe_t pairs (one per
// direction) rather than the teacher's own duplicated ring-buffer
// code — fork() that full-duplex shape once and reuse it instead of
// repeating the pipe logic here. Addresses are modeled as plain path
// strings (the bytes of a sendto/bind sockaddr), a simplification the
// spec leaves unconstrained at the wire level for a single-machine
// local-socket implementation.
package socket

import (
	"sync"

	"defs"
	"fdops"
	"limits"
	"pipe"
)

// Kind_t distinguishes the two socket types §4.13 requires.
type Kind_t int

const (
	Stream Kind_t = iota
	Dgram
)

type dgram_t struct {
	from string
	data []uint8
}

// Socket_t is one local socket endpoint: depending on Kind it behaves
// as a listening/connecting stream socket or a connectionless
// datagram socket.
type Socket_t struct {
	fdops.Unimplemented_t
	mu   sync.Mutex
	kind Kind_t
	path string

	// stream
	listening bool
	acceptq   chan *streamConn_t
	conn      *streamConn_t

	// dgram
	mbox chan dgram_t
}

type streamConn_t struct {
	r *pipe.ReadEnd_t
	w *pipe.WriteEnd_t
}

// registry maps a bound path to the socket listening/receiving there,
// the hosted stand-in for the abstract socket namespace.
var registry = struct {
	sync.Mutex
	binds map[string]*Socket_t
}{binds: map[string]*Socket_t{}}

// MkSocket allocates an unbound, unconnected socket of the given kind.
func MkSocket(kind Kind_t) (*Socket_t, defs.Err_t) {
	if !limits.Syslimit.Socks.Take() {
		return nil, defs.ENOMEM.AsErr()
	}
	s := &Socket_t{kind: kind}
	if kind == Dgram {
		s.mbox = make(chan dgram_t, 64)
	}
	return s, 0
}

func pathOf(sa []uint8) string { return string(sa) }

// Bind reserves path for this socket (both stream-listen and dgram
// bind share the same namespace).
func (s *Socket_t) Bind(sa []uint8) defs.Err_t {
	path := pathOf(sa)
	registry.Lock()
	defer registry.Unlock()
	if _, taken := registry.binds[path]; taken {
		return defs.EEXIST.AsErr()
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	registry.binds[path] = s
	return 0
}

// Listen marks a bound stream socket ready to accept connections.
func (s *Socket_t) Listen(backlog int) (fdops.Fdops_i, defs.Err_t) {
	if s.kind != Stream {
		return nil, defs.EINVAL.AsErr()
	}
	if backlog <= 0 {
		backlog = 16
	}
	s.mu.Lock()
	s.listening = true
	s.acceptq = make(chan *streamConn_t, backlog)
	s.mu.Unlock()
	return s, 0
}

// Accept blocks for the next pending connection on a listening stream
// socket and returns a fresh Socket_t wired to that peer.
func (s *Socket_t) Accept(sa fdops.Userio_i, salen fdops.Userio_i) (fdops.Fdops_i, defs.Err_t) {
	s.mu.Lock()
	q := s.acceptq
	s.mu.Unlock()
	if q == nil {
		return nil, defs.EINVAL.AsErr()
	}
	conn := <-q
	peer, _ := MkSocket(Stream)
	peer.conn = conn
	return peer, 0
}

// Connect dials a listening stream socket bound at the address in sa,
// or sets the default destination for a dgram socket.
func (s *Socket_t) Connect(sa []uint8) defs.Err_t {
	path := pathOf(sa)
	if s.kind == Dgram {
		s.mu.Lock()
		s.path = path
		s.mu.Unlock()
		return 0
	}
	registry.Lock()
	target, ok := registry.binds[path]
	registry.Unlock()
	if !ok {
		return defs.ECONNREFUSED.AsErr()
	}
	target.mu.Lock()
	listening := target.listening
	q := target.acceptq
	target.mu.Unlock()
	if !listening {
		return defs.ECONNREFUSED.AsErr()
	}

	c2sR, c2sW, err := pipe.MkEnds()
	if err != 0 {
		return err
	}
	s2cR, s2cW, err := pipe.MkEnds()
	if err != 0 {
		return err
	}
	serverSide := &streamConn_t{r: c2sR, w: s2cW}
	clientSide := &streamConn_t{r: s2cR, w: c2sW}

	select {
	case q <- serverSide:
	default:
		return defs.ECONNREFUSED.AsErr()
	}
	s.mu.Lock()
	s.conn = clientSide
	s.mu.Unlock()
	return 0
}

func (s *Socket_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, defs.ENOTCONN.AsErr()
	}
	return conn.r.Read(dst)
}

func (s *Socket_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, defs.ENOTCONN.AsErr()
	}
	return conn.w.Write(src)
}

// Sendto delivers a datagram to the bound mailbox named in sa (or, for
// a connected dgram socket, to Connect's saved destination when sa is
// empty).
func (s *Socket_t) Sendto(src fdops.Userio_i, sa []uint8, flags int) (int, defs.Err_t) {
	if s.kind != Dgram {
		return 0, defs.EINVAL.AsErr()
	}
	dest := pathOf(sa)
	if dest == "" {
		s.mu.Lock()
		dest = s.path
		s.mu.Unlock()
	}
	registry.Lock()
	target, ok := registry.binds[dest]
	registry.Unlock()
	if !ok {
		return 0, defs.ECONNREFUSED.AsErr()
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	select {
	case target.mbox <- dgram_t{from: s.path, data: buf[:n]}:
	default:
		return 0, defs.ENOMEM.AsErr()
	}
	return n, 0
}

// Recvfrom blocks for the next datagram addressed to this socket.
func (s *Socket_t) Recvfrom(dst fdops.Userio_i, fromsa fdops.Userio_i) (int, defs.Err_t, int) {
	if s.kind != Dgram {
		return 0, defs.EINVAL.AsErr(), 0
	}
	d := <-s.mbox
	n, err := dst.Uiowrite(d.data)
	if err != 0 {
		return n, err, 0
	}
	if fromsa != nil {
		fromsa.Uiowrite([]uint8(d.from))
	}
	return n, 0, len(d.from)
}

func (s *Socket_t) Close() defs.Err_t {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path != "" {
		registry.Lock()
		if registry.binds[path] == s {
			delete(registry.binds, path)
		}
		registry.Unlock()
	}
	limits.Syslimit.Socks.Give()
	return 0
}

func (s *Socket_t) Fullpath() (string, defs.Err_t) { return "socket:", 0 }
