package netext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

func TestTCP_ListenAcceptConnectReadWrite(t *testing.T) {
	m := NewManager()
	lnRid, err := m.TCPListen("127.0.0.1", 0)
	require.NoError(t, err)

	addr, err := m.streamAddrOfListener(lnRid)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptCh := make(chan AcceptResult, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		res, err := m.TCPAccept(ctx, lnRid)
		acceptCh <- res
		acceptErrCh <- err
	}()

	clientRes, err := m.TCPConnect(ctx, addr.ip, addr.port)
	require.NoError(t, err)

	require.NoError(t, <-acceptErrCh)
	serverRes := <-acceptCh

	n, err := m.TCPWrite(clientRes.ResourceID, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, err := m.TCPRead(serverRes.ResourceID, 1024)
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	require.NoError(t, m.TCPClose(clientRes.ResourceID))
	require.NoError(t, m.TCPClose(serverRes.ResourceID))
	require.NoError(t, m.TCPClose(lnRid))
}

func TestTCPClose_UnknownResourceErrors(t *testing.T) {
	m := NewManager()
	err := m.TCPClose(999)
	require.True(t, hosterror.Is(err, hosterror.KindResourceError))
}

func TestUDP_BindSendReceive(t *testing.T) {
	m := NewManager()
	serverRid, err := m.UDPBind("127.0.0.1", 0)
	require.NoError(t, err)
	serverAddr, err := m.udpLocalAddr(serverRid)
	require.NoError(t, err)

	clientRid, err := m.UDPBind("127.0.0.1", 0)
	require.NoError(t, err)

	n, err := m.UDPSend(clientRid, []byte("ping"), serverAddr.ip, serverAddr.port)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	result, err := m.UDPReceive(serverRid, 1024)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), result.Data)
	require.NotEmpty(t, result.From)

	require.NoError(t, m.UDPClose(clientRid))
	require.NoError(t, m.UDPClose(serverRid))
}

func TestJoinMulticastGroup_RejectsNonMulticastAddress(t *testing.T) {
	m := NewManager()
	rid, err := m.UDPBind("127.0.0.1", 0)
	require.NoError(t, err)
	defer m.UDPClose(rid)

	err = m.JoinMulticastGroup(rid, "127.0.0.1")
	require.True(t, hosterror.Is(err, hosterror.KindInvalidPath))
}

func TestUnixSockets_ConnectAndStream(t *testing.T) {
	sockPath := t.TempDir() + "/test.sock"
	m := NewManager()
	lnRid, err := m.UnixListen(sockPath)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptCh := make(chan AcceptResult, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		res, err := m.UnixAccept(ctx, lnRid)
		acceptCh <- res
		acceptErrCh <- err
	}()

	clientRes, err := m.UnixConnect(ctx, sockPath)
	require.NoError(t, err)
	require.NoError(t, <-acceptErrCh)
	serverRes := <-acceptCh

	_, err = m.UnixWrite(clientRes.ResourceID, []byte("hi"))
	require.NoError(t, err)

	got, err := m.UnixRead(serverRes.ResourceID, 16)
	require.NoError(t, err)
	require.Equal(t, "hi", got)

	require.NoError(t, m.UnixClose(clientRes.ResourceID))
	require.NoError(t, m.UnixClose(serverRes.ResourceID))
	require.NoError(t, m.UnixClose(lnRid))
}

func TestDNSResolve_Localhost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := DNSResolve(ctx, "localhost", "")
	require.NoError(t, err)
	require.Equal(t, "localhost", result.Hostname)
	require.NotEmpty(t, result.Addresses)
}
