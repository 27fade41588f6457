package netext

import (
	"context"

	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// NewExtension declares the "net" capability: TCP, UDP, DNS and Unix
// socket ops (spec §4.4), backed by one Manager stored in the agent's
// Host Data. lossyUTF8 selects the Node-compat read encoding (spec §9
// Open Question #2); false (the default) means reads are Base64-encoded.
func NewExtension(lossyUTF8 bool) extension.Extension {
	return extension.Extension{
		Name:      "net",
		Namespace: "net",
		StorageInit: func(agent jsagent.Agent) error {
			m := NewManager()
			m.SetLossyUTF8(lossyUTF8)
			hostdata.Set(agent.HostData(), m)
			return nil
		},
		Ops: []extension.ExtensionOp{
			{Name: "tcp_listen", Handler: opTCPListen, ArgCount: 2},
			{Name: "tcp_accept_async", Handler: opTCPAcceptAsync, ArgCount: 1, IsAsyncHint: true},
			{Name: "tcp_connect_async", Handler: opTCPConnectAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "tcp_read_async", Handler: opTCPReadAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "tcp_write_async", Handler: opTCPWriteAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "tcp_close", Handler: opTCPClose, ArgCount: 1},
			{Name: "tcp_set_nodelay", Handler: opTCPSetNoDelay, ArgCount: 2},
			{Name: "tcp_set_keepalive", Handler: opTCPSetKeepAlive, ArgCount: 2},
			{Name: "udp_bind", Handler: opUDPBind, ArgCount: 2},
			{Name: "udp_send_async", Handler: opUDPSendAsync, ArgCount: 4, IsAsyncHint: true},
			{Name: "udp_receive_async", Handler: opUDPReceiveAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "udp_close", Handler: opUDPClose, ArgCount: 1},
			{Name: "udp_set_broadcast", Handler: opUDPSetBroadcast, ArgCount: 2},
			{Name: "udp_set_ttl", Handler: opUDPSetTTL, ArgCount: 2},
			{Name: "join_multicast_group", Handler: opJoinMulticastGroup, ArgCount: 2},
			{Name: "leave_multicast_group", Handler: opLeaveMulticastGroup, ArgCount: 2},
			{Name: "dns_resolve_async", Handler: opDNSResolveAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "unix_listen", Handler: opUnixListen, ArgCount: 1},
			{Name: "unix_accept_async", Handler: opUnixAcceptAsync, ArgCount: 1, IsAsyncHint: true},
			{Name: "unix_connect_async", Handler: opUnixConnectAsync, ArgCount: 1, IsAsyncHint: true},
			{Name: "unix_read_async", Handler: opUnixReadAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "unix_write_async", Handler: opUnixWriteAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "unix_close", Handler: opUnixClose, ArgCount: 1},
			{Name: "unix_datagram_bind", Handler: opUnixDatagramBind, ArgCount: 1},
			{Name: "unix_datagram_send_async", Handler: opUnixDatagramSendAsync, ArgCount: 3, IsAsyncHint: true},
			{Name: "unix_datagram_receive_async", Handler: opUnixDatagramReceiveAsync, ArgCount: 2, IsAsyncHint: true},
			{Name: "unix_datagram_close", Handler: opUnixDatagramClose, ArgCount: 1},
		},
	}
}

func manager(agent jsagent.Agent) (*Manager, error) {
	m, ok := hostdata.Get[*Manager](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "net extension storage not initialized")
	}
	return m, nil
}

// --- argument decoding ---
//
// Args arrive as engine Values; Export() surfaces their plain-Go shape
// (spec §4.1's marshalling rules) so ops never need an engine-specific
// type assertion.

func argString(args []jsagent.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Export().(string)
	return s, ok
}

func argNumber(args []jsagent.Value, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, ok := args[i].Export().(float64)
	return n, ok
}

func argBool(args []jsagent.Value, i int) (bool, bool) {
	if i >= len(args) {
		return false, false
	}
	b, ok := args[i].Export().(bool)
	return b, ok
}

// toAcceptResult converts an AcceptResult into an engine object of shape
// {localAddr, remoteAddr, resourceId}.
func toAcceptResult(r AcceptResult) map[string]any {
	return map[string]any{
		"localAddr":  r.LocalAddr,
		"remoteAddr": r.RemoteAddr,
		"resourceId": float64(r.ResourceID),
	}
}

func toUDPReceiveResult(m *Manager, r UDPReceiveResult) map[string]any {
	return map[string]any{
		"data": m.EncodeChunk(r.Data),
		"from": r.From,
	}
}

func toDNSResolveResult(r DNSResolveResult) map[string]any {
	addrs := make([]any, len(r.Addresses))
	for i, a := range r.Addresses {
		addrs[i] = a
	}
	return map[string]any{
		"hostname":  r.Hostname,
		"addresses": addrs,
	}
}

// spawnAsync runs fn on the host data's worker pool and settles the
// returned promise from a KindResolvePromiseWithData/KindRejectPromise
// macro-task, since fn must never touch the engine from its own
// goroutine.
func spawnAsync(agent jsagent.Agent, fn func(ctx context.Context) (any, error)) jsagent.Value {
	promise := agent.NewPromise()
	data := agent.HostData()
	data.Spawn(func(ctx context.Context) {
		result, err := fn(ctx)
		if err != nil {
			data.Post(hostdata.MacroTask{Kind: hostdata.KindRejectPromise, PromiseRef: promise.Ref, Message: err.Error()})
			return
		}
		data.Post(hostdata.MacroTask{Kind: hostdata.KindResolvePromiseWithData, PromiseRef: promise.Ref, Data: result})
	})
	return promise.Promise
}

// --- TCP ---

func opTCPListen(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	host, _ := argString(args, 0)
	port, _ := argNumber(args, 1)
	rid, err := m.TCPListen(host, int(port))
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opTCPAcceptAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.TCPAccept(ctx, rid)
		if err != nil {
			return nil, err
		}
		return toAcceptResult(res), nil
	}), nil
}

func opTCPConnectAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	host, _ := argString(args, 0)
	port, _ := argNumber(args, 1)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.TCPConnect(ctx, host, int(port))
		if err != nil {
			return nil, err
		}
		return toAcceptResult(res), nil
	}), nil
}

func opTCPReadAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	maxBytes, _ := argNumber(args, 1)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		data, err := m.TCPReadBytes(rid, int(maxBytes))
		if err != nil {
			return nil, err
		}
		return m.EncodeChunk(data), nil
	}), nil
}

func opTCPWriteAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	dataStr, _ := argString(args, 1)
	rid := resource.Rid(ridNum)
	data, err := m.DecodeChunk(dataStr)
	if err != nil {
		return nil, err
	}
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		n, err := m.TCPWrite(rid, data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bytesWritten": float64(n)}, nil
	}), nil
}

func opTCPClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	if err := m.TCPClose(resource.Rid(ridNum)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opTCPSetNoDelay(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	enabled, _ := argBool(args, 1)
	if err := m.TCPSetNoDelay(resource.Rid(ridNum), enabled); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opTCPSetKeepAlive(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	enabled, _ := argBool(args, 1)
	if err := m.TCPSetKeepAlive(resource.Rid(ridNum), enabled); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

// --- UDP ---

func opUDPBind(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	host, _ := argString(args, 0)
	port, _ := argNumber(args, 1)
	rid, err := m.UDPBind(host, int(port))
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opUDPSendAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	dataStr, _ := argString(args, 1)
	targetHost, _ := argString(args, 2)
	targetPort, _ := argNumber(args, 3)
	rid := resource.Rid(ridNum)
	data, err := m.DecodeChunk(dataStr)
	if err != nil {
		return nil, err
	}
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		n, err := m.UDPSend(rid, data, targetHost, int(targetPort))
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	}), nil
}

func opUDPReceiveAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	maxBytes, _ := argNumber(args, 1)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.UDPReceive(rid, int(maxBytes))
		if err != nil {
			return nil, err
		}
		return toUDPReceiveResult(m, res), nil
	}), nil
}

func opUDPClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	if err := m.UDPClose(resource.Rid(ridNum)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opUDPSetBroadcast(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	enabled, _ := argBool(args, 1)
	if err := m.UDPSetBroadcast(resource.Rid(ridNum), enabled); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opUDPSetTTL(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	ttl, _ := argNumber(args, 1)
	if err := m.UDPSetTTL(resource.Rid(ridNum), int(ttl)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opJoinMulticastGroup(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	group, _ := argString(args, 1)
	if err := m.JoinMulticastGroup(resource.Rid(ridNum), group); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opLeaveMulticastGroup(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	group, _ := argString(args, 1)
	if err := m.LeaveMulticastGroup(resource.Rid(ridNum), group); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

// --- DNS ---

func opDNSResolveAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	hostname, _ := argString(args, 0)
	recordType, _ := argString(args, 1)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := DNSResolve(ctx, hostname, recordType)
		if err != nil {
			return nil, err
		}
		return toDNSResolveResult(res), nil
	}), nil
}

// --- Unix sockets ---

func opUnixListen(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	rid, err := m.UnixListen(path)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opUnixAcceptAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.UnixAccept(ctx, rid)
		if err != nil {
			return nil, err
		}
		return toAcceptResult(res), nil
	}), nil
}

func opUnixConnectAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.UnixConnect(ctx, path)
		if err != nil {
			return nil, err
		}
		return toAcceptResult(res), nil
	}), nil
}

func opUnixReadAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	maxBytes, _ := argNumber(args, 1)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		data, err := m.UnixReadBytes(rid, int(maxBytes))
		if err != nil {
			return nil, err
		}
		return m.EncodeChunk(data), nil
	}), nil
}

func opUnixWriteAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	dataStr, _ := argString(args, 1)
	rid := resource.Rid(ridNum)
	data, err := m.DecodeChunk(dataStr)
	if err != nil {
		return nil, err
	}
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		n, err := m.UnixWrite(rid, data)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	}), nil
}

func opUnixClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	if err := m.UnixClose(resource.Rid(ridNum)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opUnixDatagramBind(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	rid, err := m.UnixDatagramBind(path)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opUnixDatagramSendAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	dataStr, _ := argString(args, 1)
	targetPath, _ := argString(args, 2)
	rid := resource.Rid(ridNum)
	data, err := m.DecodeChunk(dataStr)
	if err != nil {
		return nil, err
	}
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		n, err := m.UnixDatagramSend(rid, data, targetPath)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	}), nil
}

func opUnixDatagramReceiveAsync(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	maxBytes, _ := argNumber(args, 1)
	rid := resource.Rid(ridNum)
	return spawnAsync(agent, func(ctx context.Context) (any, error) {
		res, err := m.UnixDatagramReceive(rid, int(maxBytes))
		if err != nil {
			return nil, err
		}
		return toUDPReceiveResult(m, res), nil
	}), nil
}

func opUnixDatagramClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	ridNum, _ := argNumber(args, 0)
	if err := m.UnixDatagramClose(resource.Rid(ridNum)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}
