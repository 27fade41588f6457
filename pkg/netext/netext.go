// Package netext implements the Networking capability (spec §4.4): TCP,
// UDP and Unix socket resources plus DNS resolution, backed by a single
// resource table shared by listeners and streams so either kind of id
// can satisfy a close request.
//
// Grounded on the teacher's pkg/relay.Tunnel (a mutex-guarded map from
// an id to a live connection, with Close tearing the entry down) —
// generalized from one tunnel-per-node to one resource-table entry per
// socket, since the shape (id → live conn, removed on close) is the
// same idea.
package netext

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// MaxReadBytes is the cap spec §4.4 places on one tcp_read_async call.
const MaxReadBytes = 65536

// socket is anything the resource table can hold and close uniformly.
type socket interface {
	Close() error
}

type listener struct{ ln net.Listener }

func (l *listener) Close() error { return l.ln.Close() }

type streamConn struct{ conn net.Conn }

func (c *streamConn) Close() error { return c.conn.Close() }

type packetConn struct{ conn net.PacketConn }

func (c *packetConn) Close() error { return c.conn.Close() }

// Manager owns every live socket for one agent.
type Manager struct {
	sockets *resource.Table[socket]

	// lossyUTF8 preserves the source runtime's lossy-UTF-8 decoding of
	// read bytes instead of the Base64 default the extension wiring
	// otherwise applies (spec §9's Node-compat configuration flag).
	lossyUTF8 bool
}

// NewManager creates an empty socket manager.
func NewManager() *Manager {
	return &Manager{sockets: resource.NewTable[socket]()}
}

// SetLossyUTF8 toggles the Node-compat lossy-UTF-8 read encoding.
func (m *Manager) SetLossyUTF8(enabled bool) { m.lossyUTF8 = enabled }

// EncodeChunk renders bytes received from a read/receive op the way
// they're handed to script: Base64 by default (binary-safe), or lossy
// UTF-8 text when SetLossyUTF8(true) was called.
func (m *Manager) EncodeChunk(data []byte) string {
	if m.lossyUTF8 {
		return string(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeChunk is EncodeChunk's inverse, applied to data a write/send op
// receives from script.
func (m *Manager) DecodeChunk(s string) ([]byte, error) {
	if m.lossyUTF8 {
		return []byte(s), nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindEncodingError, err, "decoding base64 chunk")
	}
	return data, nil
}

// AcceptResult is the resolved value of tcp_accept_async /
// tcp_connect_async / their Unix analogues.
type AcceptResult struct {
	LocalAddr  string
	RemoteAddr string
	ResourceID resource.Rid
}

// Close removes rid from the table, whatever kind of socket it is.
func (m *Manager) Close(rid resource.Rid) error {
	sock, ok := m.sockets.Remove(rid)
	if !ok {
		return hosterror.New(hosterror.KindResourceError, "no such socket resource")
	}
	return sock.Close()
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// --- TCP ---

// TCPListen binds a TCP listener on host:port.
func (m *Manager) TCPListen(host string, port int) (resource.Rid, error) {
	ln, err := net.Listen("tcp", hostPort(host, port))
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "tcp listen")
	}
	return m.sockets.Push(&listener{ln: ln}), nil
}

type hostPortAddr struct {
	ip   string
	port int
}

// streamAddrOfListener reports the host/port a TCP listener bound to,
// useful when the caller passed port 0 and the kernel picked one.
func (m *Manager) streamAddrOfListener(rid resource.Rid) (hostPortAddr, error) {
	sock, ok := m.sockets.Get(rid)
	if !ok {
		return hostPortAddr{}, hosterror.New(hosterror.KindResourceError, "no such listener")
	}
	ln, ok := sock.(*listener)
	if !ok {
		return hostPortAddr{}, hosterror.New(hosterror.KindResourceError, "resource is not a listener")
	}
	tcpAddr, ok := ln.ln.Addr().(*net.TCPAddr)
	if !ok {
		return hostPortAddr{}, hosterror.New(hosterror.KindResourceError, "listener is not TCP")
	}
	return hostPortAddr{ip: tcpAddr.IP.String(), port: tcpAddr.Port}, nil
}

// udpLocalAddr reports the host/port a UDP socket bound to.
func (m *Manager) udpLocalAddr(rid resource.Rid) (hostPortAddr, error) {
	conn, err := m.packetByRid(rid)
	if err != nil {
		return hostPortAddr{}, err
	}
	udpAddr, ok := conn.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return hostPortAddr{}, hosterror.New(hosterror.KindResourceError, "socket is not UDP")
	}
	return hostPortAddr{ip: udpAddr.IP.String(), port: udpAddr.Port}, nil
}

// TCPAccept awaits one inbound connection on a listener resource.
func (m *Manager) TCPAccept(ctx context.Context, rid resource.Rid) (AcceptResult, error) {
	sock, ok := m.sockets.Get(rid)
	if !ok {
		return AcceptResult{}, hosterror.New(hosterror.KindResourceError, "no such listener")
	}
	ln, ok := sock.(*listener)
	if !ok {
		return AcceptResult{}, hosterror.New(hosterror.KindResourceError, "resource is not a listener")
	}
	conn, err := acceptWithContext(ctx, ln.ln)
	if err != nil {
		return AcceptResult{}, hosterror.Wrap(hosterror.KindNetworkError, err, "tcp accept")
	}
	newRid := m.sockets.Push(&streamConn{conn: conn})
	return AcceptResult{LocalAddr: conn.LocalAddr().String(), RemoteAddr: conn.RemoteAddr().String(), ResourceID: newRid}, nil
}

// acceptWithContext runs ln.Accept() on its own goroutine so a canceled
// ctx can still return promptly; a cancellation before Accept unblocks
// leaves that goroutine to exit on its own once a connection or error
// arrives, a small leak accepted the same way the teacher's own
// best-effort cleanup paths are.
func acceptWithContext(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TCPConnect dials host:port.
func (m *Manager) TCPConnect(ctx context.Context, host string, port int) (AcceptResult, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort(host, port))
	if err != nil {
		return AcceptResult{}, hosterror.Wrap(hosterror.KindNetworkError, err, "tcp connect")
	}
	rid := m.sockets.Push(&streamConn{conn: conn})
	return AcceptResult{LocalAddr: conn.LocalAddr().String(), RemoteAddr: conn.RemoteAddr().String(), ResourceID: rid}, nil
}

func (m *Manager) streamByRid(rid resource.Rid) (*streamConn, error) {
	sock, ok := m.sockets.Get(rid)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "no such stream resource")
	}
	conn, ok := sock.(*streamConn)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "resource is not a stream")
	}
	return conn, nil
}

// TCPRead performs one read(2)-equivalent, returning decoded text. Bytes
// that aren't valid UTF-8 are lossily replaced; callers needing exact
// binary data should prefer TCPReadBytes (what the extension wiring
// uses to honor spec §9's Base64-by-default decision).
func (m *Manager) TCPRead(rid resource.Rid, maxBytes int) (string, error) {
	data, err := m.TCPReadBytes(rid, maxBytes)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// TCPReadBytes performs one read(2)-equivalent, returning the raw bytes
// received with no encoding decision made.
func (m *Manager) TCPReadBytes(rid resource.Rid, maxBytes int) ([]byte, error) {
	return readStream(m, rid, maxBytes)
}

func readStream(m *Manager, rid resource.Rid, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 || maxBytes > MaxReadBytes {
		maxBytes = MaxReadBytes
	}
	conn, err := m.streamByRid(rid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, maxBytes)
	n, err := conn.conn.Read(buf)
	if err != nil && n == 0 {
		return nil, hosterror.Wrap(hosterror.KindNetworkError, err, "tcp read")
	}
	return buf[:n], nil
}

// TCPWrite writes the full buffer, resolving only after the last byte.
func (m *Manager) TCPWrite(rid resource.Rid, data []byte) (int, error) {
	conn, err := m.streamByRid(rid)
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(data) {
		n, err := conn.conn.Write(data[written:])
		if err != nil {
			return written, hosterror.Wrap(hosterror.KindNetworkError, err, "tcp write")
		}
		written += n
	}
	return written, nil
}

// TCPClose removes the resource, whether it is the listener or a stream.
func (m *Manager) TCPClose(rid resource.Rid) error { return m.Close(rid) }

// TCPSetNoDelay toggles Nagle's algorithm on a TCP stream resource.
func (m *Manager) TCPSetNoDelay(rid resource.Rid, enabled bool) error {
	conn, err := m.streamByRid(rid)
	if err != nil {
		return err
	}
	tc, ok := conn.conn.(*net.TCPConn)
	if !ok {
		return hosterror.New(hosterror.KindResourceError, "resource is not a TCP stream")
	}
	if err := tc.SetNoDelay(enabled); err != nil {
		return hosterror.Wrap(hosterror.KindNetworkError, err, "set nodelay")
	}
	return nil
}

// TCPSetKeepAlive toggles TCP keepalive on a stream resource.
func (m *Manager) TCPSetKeepAlive(rid resource.Rid, enabled bool) error {
	conn, err := m.streamByRid(rid)
	if err != nil {
		return err
	}
	tc, ok := conn.conn.(*net.TCPConn)
	if !ok {
		return hosterror.New(hosterror.KindResourceError, "resource is not a TCP stream")
	}
	if err := tc.SetKeepAlive(enabled); err != nil {
		return hosterror.Wrap(hosterror.KindNetworkError, err, "set keepalive")
	}
	return nil
}

// --- UDP ---

func (m *Manager) packetByRid(rid resource.Rid) (*packetConn, error) {
	sock, ok := m.sockets.Get(rid)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "no such datagram resource")
	}
	conn, ok := sock.(*packetConn)
	if !ok {
		return nil, hosterror.New(hosterror.KindResourceError, "resource is not a datagram socket")
	}
	return conn, nil
}

// UDPBind binds a UDP socket on host:port.
func (m *Manager) UDPBind(host string, port int) (resource.Rid, error) {
	conn, err := net.ListenPacket("udp", hostPort(host, port))
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "udp bind")
	}
	return m.sockets.Push(&packetConn{conn: conn}), nil
}

// UDPSend sends data to target "host:port".
func (m *Manager) UDPSend(rid resource.Rid, data []byte, targetHost string, targetPort int) (int, error) {
	conn, err := m.packetByRid(rid)
	if err != nil {
		return 0, err
	}
	addr, err := net.ResolveUDPAddr("udp", hostPort(targetHost, targetPort))
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "resolving udp target")
	}
	n, err := conn.conn.WriteTo(data, addr)
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "udp send")
	}
	return n, nil
}

// UDPReceiveResult is the resolved value of udp_receive_async.
type UDPReceiveResult struct {
	Data []byte
	From string
}

// UDPReceive reads one datagram.
func (m *Manager) UDPReceive(rid resource.Rid, maxBytes int) (UDPReceiveResult, error) {
	if maxBytes <= 0 || maxBytes > MaxReadBytes {
		maxBytes = MaxReadBytes
	}
	conn, err := m.packetByRid(rid)
	if err != nil {
		return UDPReceiveResult{}, err
	}
	buf := make([]byte, maxBytes)
	n, addr, err := conn.conn.ReadFrom(buf)
	if err != nil {
		return UDPReceiveResult{}, hosterror.Wrap(hosterror.KindNetworkError, err, "udp receive")
	}
	return UDPReceiveResult{Data: buf[:n], From: addr.String()}, nil
}

// UDPClose removes a UDP socket resource.
func (m *Manager) UDPClose(rid resource.Rid) error { return m.Close(rid) }

// UDPSetBroadcast toggles broadcast delivery via the ipv4 package's
// raw-option surface (net.UDPConn exposes no portable SetBroadcast).
func (m *Manager) UDPSetBroadcast(rid resource.Rid, enabled bool) error {
	conn, err := m.packetByRid(rid)
	if err != nil {
		return err
	}
	if err := ipv4.NewPacketConn(conn.conn).SetMulticastLoopback(enabled); err != nil {
		return hosterror.Wrap(hosterror.KindNetworkError, err, "set broadcast")
	}
	return nil
}

// UDPSetTTL sets the outbound multicast TTL.
func (m *Manager) UDPSetTTL(rid resource.Rid, ttl int) error {
	conn, err := m.packetByRid(rid)
	if err != nil {
		return err
	}
	if err := ipv4.NewPacketConn(conn.conn).SetMulticastTTL(ttl); err != nil {
		return hosterror.Wrap(hosterror.KindNetworkError, err, "set ttl")
	}
	return nil
}

// JoinMulticastGroup validates group (per spec: IPv4 must satisfy the
// multicast range, IPv6 must satisfy is_multicast()) and joins it.
func (m *Manager) JoinMulticastGroup(rid resource.Rid, group string) error {
	return m.multicastMembership(rid, group, true)
}

// LeaveMulticastGroup validates group and leaves it.
func (m *Manager) LeaveMulticastGroup(rid resource.Rid, group string) error {
	return m.multicastMembership(rid, group, false)
}

func (m *Manager) multicastMembership(rid resource.Rid, group string, join bool) error {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return hosterror.New(hosterror.KindInvalidPath, "not a multicast address: "+group)
	}
	conn, err := m.packetByRid(rid)
	if err != nil {
		return err
	}
	groupAddr := &net.UDPAddr{IP: ip}
	if ip.To4() != nil {
		pc := ipv4.NewPacketConn(conn.conn)
		if join {
			err = pc.JoinGroup(nil, groupAddr)
		} else {
			err = pc.LeaveGroup(nil, groupAddr)
		}
	} else {
		pc := ipv6.NewPacketConn(conn.conn)
		if join {
			err = pc.JoinGroup(nil, groupAddr)
		} else {
			err = pc.LeaveGroup(nil, groupAddr)
		}
	}
	if err != nil {
		return hosterror.Wrap(hosterror.KindNetworkError, err, "multicast membership")
	}
	return nil
}

// --- DNS ---

// DNSResolveResult is the resolved value of dns_resolve_async.
type DNSResolveResult struct {
	Hostname  string
	Addresses []string
}

// DNSResolve looks up hostname, filtering to A (ipv4) or AAAA (ipv6)
// records per recordType ("A", "AAAA", or "" for both).
func DNSResolve(ctx context.Context, hostname, recordType string) (DNSResolveResult, error) {
	network := "ip"
	switch strings.ToUpper(recordType) {
	case "A":
		network = "ip4"
	case "AAAA":
		network = "ip6"
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, network, hostname)
	if err != nil {
		return DNSResolveResult{}, hosterror.Wrap(hosterror.KindNetworkError, err, "dns resolve")
	}
	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = ip.String()
	}
	return DNSResolveResult{Hostname: hostname, Addresses: addrs}, nil
}

// --- Unix sockets ---

// UnixListen binds a Unix stream listener at path.
func (m *Manager) UnixListen(path string) (resource.Rid, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "unix listen")
	}
	return m.sockets.Push(&listener{ln: ln}), nil
}

// UnixAccept awaits one inbound connection on a Unix listener resource.
func (m *Manager) UnixAccept(ctx context.Context, rid resource.Rid) (AcceptResult, error) {
	return m.TCPAccept(ctx, rid) // identical mechanics: listener -> streamConn
}

// UnixConnect dials a Unix stream socket at path.
func (m *Manager) UnixConnect(ctx context.Context, path string) (AcceptResult, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return AcceptResult{}, hosterror.Wrap(hosterror.KindNetworkError, err, "unix connect")
	}
	rid := m.sockets.Push(&streamConn{conn: conn})
	return AcceptResult{LocalAddr: conn.LocalAddr().String(), RemoteAddr: conn.RemoteAddr().String(), ResourceID: rid}, nil
}

// UnixRead/UnixWrite/UnixClose reuse the TCP stream helpers since a Unix
// stream resource is stored the same way.
func (m *Manager) UnixRead(rid resource.Rid, maxBytes int) (string, error) { return m.TCPRead(rid, maxBytes) }
func (m *Manager) UnixReadBytes(rid resource.Rid, maxBytes int) ([]byte, error) {
	return m.TCPReadBytes(rid, maxBytes)
}
func (m *Manager) UnixWrite(rid resource.Rid, data []byte) (int, error) { return m.TCPWrite(rid, data) }
func (m *Manager) UnixClose(rid resource.Rid) error                     { return m.Close(rid) }

// UnixDatagramBind binds a Unix datagram socket at path.
func (m *Manager) UnixDatagramBind(path string) (resource.Rid, error) {
	conn, err := net.ListenPacket("unixgram", path)
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "unix datagram bind")
	}
	return m.sockets.Push(&packetConn{conn: conn}), nil
}

// UnixDatagramSend sends data to a peer unixgram path.
func (m *Manager) UnixDatagramSend(rid resource.Rid, data []byte, targetPath string) (int, error) {
	conn, err := m.packetByRid(rid)
	if err != nil {
		return 0, err
	}
	addr := &net.UnixAddr{Name: targetPath, Net: "unixgram"}
	n, err := conn.conn.WriteTo(data, addr)
	if err != nil {
		return 0, hosterror.Wrap(hosterror.KindNetworkError, err, "unix datagram send")
	}
	return n, nil
}

// UnixDatagramReceive reads one datagram from a unixgram socket.
func (m *Manager) UnixDatagramReceive(rid resource.Rid, maxBytes int) (UDPReceiveResult, error) {
	return m.UDPReceive(rid, maxBytes)
}

// UnixDatagramClose removes a unixgram socket resource.
func (m *Manager) UnixDatagramClose(rid resource.Rid) error { return m.Close(rid) }
