package uprobe

import (
	"github.com/cockroachdb/errors"
)

// Symbol-address structs mirrored into kernel maps, one map per
// library family, keyed by pid. The kernel-side probe code reads
// these to locate fields inside the traced process's own structures;
// user space is the single producer.

// OpenSSLSymAddrs carries the struct-member offsets the SSL_write /
// SSL_read probes need to reach the underlying file descriptor.
type OpenSSLSymAddrs struct {
	SSLRbioOffset int32
	RbioNumOffset int32
	VersionOffset int32
}

// GoCommonSymAddrs locates the interface tables and FD plumbing every
// Go probe needs to recover a socket fd from a net.Conn.
type GoCommonSymAddrs struct {
	InternalSyscallConn int64
	TLSConn             int64
	NetTCPConn          int64
	FDSysfdOffset       int32
}

// GoTLSSymAddrs carries argument locations for crypto/tls Conn
// Read/Write probes.
type GoTLSSymAddrs struct {
	WriteCPtrLoc int32
	WriteBufLoc  int32
	ReadCPtrLoc  int32
	ReadBufLoc   int32
}

// GoHTTP2SymAddrs carries argument locations for the http2 framer and
// loopy-writer probes.
type GoHTTP2SymAddrs struct {
	HTTP2FramerFdOffset     int64
	HTTP2BufwriterFdOffset  int64
	LoopyWriterFramerOffset int64
}

// UserManagedMap is the host-side handle to a kernel map whose
// entries user space owns: written when a process is discovered and
// its binary parses, removed when the process disappears. The kernel
// reads but never mutates, so no locking is needed beyond the
// manager's own deploy serialization.
type UserManagedMap[V any] struct {
	name    string
	entries map[uint32]V
}

func NewUserManagedMap[V any](name string) *UserManagedMap[V] {
	return &UserManagedMap[V]{
		name:    name,
		entries: make(map[uint32]V),
	}
}

func (m *UserManagedMap[V]) Name() string { return m.name }

func (m *UserManagedMap[V]) UpdateValue(pid uint32, v V) {
	m.entries[pid] = v
}

func (m *UserManagedMap[V]) RemoveValue(pid uint32) {
	delete(m.entries, pid)
}

func (m *UserManagedMap[V]) Lookup(pid uint32) (V, bool) {
	v, ok := m.entries[pid]
	return v, ok
}

func (m *UserManagedMap[V]) Len() int { return len(m.entries) }

var errMissingSymbols = errors.New("uprobe: binary lacks mandatory symbols")

// openSSLSymAddrs derives the offsets for the traced libcrypto. The
// offsets are fixed per OpenSSL minor version; only the 1.1.x layout
// is provided, and it is returned whenever the version symbol exists
// (the symbol's value is not read).
func openSSLSymAddrs(ins Inspector) (OpenSSLSymAddrs, error) {
	if _, ok := ins.SymbolAddress("OpenSSL_version_num"); !ok {
		return OpenSSLSymAddrs{}, errors.Wrap(errMissingSymbols, "OpenSSL_version_num")
	}
	// OpenSSL 1.1.x struct layout.
	return OpenSSLSymAddrs{
		SSLRbioOffset: 0x10,
		RbioNumOffset: 0x30,
		VersionOffset: 0x0,
	}, nil
}

// goCommonSymAddrs derives the itab addresses shared by all Go
// probes. A binary without them is either not Go or stripped past the
// point of usefulness.
func goCommonSymAddrs(ins Inspector) (GoCommonSymAddrs, error) {
	syscallConn, ok1 := ins.SymbolAddress("go.itab.*internal/poll.FD,syscall.Conn")
	tlsConn, ok2 := ins.SymbolAddress("go.itab.*crypto/tls.Conn,net.Conn")
	tcpConn, ok3 := ins.SymbolAddress("go.itab.*net.TCPConn,net.Conn")
	if !ok1 || !ok2 || !ok3 {
		return GoCommonSymAddrs{}, errors.Wrap(errMissingSymbols, "go common itabs")
	}
	return GoCommonSymAddrs{
		InternalSyscallConn: int64(syscallConn),
		TLSConn:             int64(tlsConn),
		NetTCPConn:          int64(tcpConn),
		FDSysfdOffset:       0x10,
	}, nil
}

func goTLSSymAddrs(ins Inspector) (GoTLSSymAddrs, error) {
	if _, ok := ins.SymbolAddress("crypto/tls.(*Conn).Write"); !ok {
		return GoTLSSymAddrs{}, errors.Wrap(errMissingSymbols, "crypto/tls.(*Conn).Write")
	}
	// Register-ABI argument locations (amd64, Go >= 1.17).
	return GoTLSSymAddrs{
		WriteCPtrLoc: 0,
		WriteBufLoc:  1,
		ReadCPtrLoc:  0,
		ReadBufLoc:   1,
	}, nil
}

func goHTTP2SymAddrs(ins Inspector) (GoHTTP2SymAddrs, error) {
	framer, ok := ins.SymbolAddress("golang.org/x/net/http2.(*Framer).WriteDataPadded")
	if !ok {
		return GoHTTP2SymAddrs{}, errors.Wrap(errMissingSymbols, "http2 framer symbols")
	}
	return GoHTTP2SymAddrs{
		HTTP2FramerFdOffset:     int64(framer),
		HTTP2BufwriterFdOffset:  0x8,
		LoopyWriterFramerOffset: 0x30,
	}, nil
}
