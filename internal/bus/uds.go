package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"fincontrol/pkg/exception"
	"fincontrol/pkg/uds"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const (
	maxFrameSize  = 1 << 20
	connQueueSize = 512
)

// Gateway bridges external modules to the local bus over a unix socket.
// Frames are newline-delimited JSON envelopes in both directions: inbound
// frames are validated and published locally, and every message of a
// forwarded type is written to all connected modules except its originator.
type Gateway struct {
	bus     *Bus
	server  *uds.Server
	forward []MessageType

	mu    sync.Mutex
	conns map[*gatewayConn]struct{}
	wg    sync.WaitGroup
}

type gatewayConn struct {
	raw *net.UnixConn
	out chan Message

	mu     sync.Mutex
	source string
}

// NewGateway creates a gateway listening on socketPath. The forward list
// names the message types pushed out to connected modules.
func NewGateway(b *Bus, socketPath string, forward []MessageType) (*Gateway, error) {
	if b == nil {
		return nil, exception.ErrNilInstance
	}
	server, err := uds.NewServer(socketPath)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		bus:     b,
		server:  server,
		forward: forward,
		conns:   make(map[*gatewayConn]struct{}),
	}, nil
}

// Run listens and serves until ctx is done. It subscribes to the forwarded
// types once and fans them out to every live connection.
func (g *Gateway) Run(ctx context.Context) error {
	if g == nil {
		return exception.ErrNilInstance
	}
	if err := g.server.Listen(); err != nil {
		return err
	}
	logs.Info("bus gateway listening: ", g.server.Path())

	for _, msgType := range g.forward {
		if err := g.bus.Subscribe(ctx, msgType, "uds-gateway", g.broadcast); err != nil {
			_ = g.server.Close()
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-sys.Shutdown():
		}
		_ = g.server.Close()
	}()

	for {
		conn, err := g.server.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logs.Errorf("bus gateway accept: %+v", err)
			continue
		}
		gc := &gatewayConn{raw: conn, out: make(chan Message, connQueueSize)}
		g.mu.Lock()
		g.conns[gc] = struct{}{}
		g.mu.Unlock()

		g.wg.Add(2)
		go g.readLoop(ctx, gc)
		go g.writeLoop(ctx, gc)
	}

	g.mu.Lock()
	for gc := range g.conns {
		close(gc.out)
		_ = gc.raw.Close()
	}
	g.conns = make(map[*gatewayConn]struct{})
	g.mu.Unlock()
	g.wg.Wait()
	return nil
}

// broadcast forwards a local message to every connection except the module
// that sent it in.
func (g *Gateway) broadcast(_ context.Context, m Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for gc := range g.conns {
		gc.mu.Lock()
		origin := gc.source
		gc.mu.Unlock()
		if origin != "" && origin == m.Source {
			continue
		}
		select {
		case gc.out <- m:
		default:
			logs.Warnf("bus gateway: drop %s for module %s: queue full", m.Type, origin)
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, gc *gatewayConn) {
	defer g.wg.Done()
	defer g.drop(gc)

	scanner := bufio.NewScanner(gc.raw)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			logs.Errorf("bus gateway: bad frame: %+v", err)
			continue
		}
		if err := m.Validate(); err != nil {
			logs.Errorf("bus gateway: invalid envelope from %s: %+v", m.Source, err)
			continue
		}
		gc.mu.Lock()
		gc.source = m.Source
		gc.mu.Unlock()
		if err := g.bus.Publish(m); err != nil {
			logs.Errorf("bus gateway: publish %s: %+v", m.Type, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		logs.Warnf("bus gateway: read: %+v", err)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, gc *gatewayConn) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-gc.out:
			if !ok {
				return
			}
			frame, err := json.Marshal(m)
			if err != nil {
				logs.Errorf("bus gateway: encode %s: %+v", m.Type, err)
				continue
			}
			frame = append(frame, '\n')
			if err := writeFull(gc.raw, frame); err != nil {
				g.drop(gc)
				return
			}
		}
	}
}

func (g *Gateway) drop(gc *gatewayConn) {
	g.mu.Lock()
	if _, ok := g.conns[gc]; ok {
		delete(g.conns, gc)
		close(gc.out)
	}
	g.mu.Unlock()
	_ = gc.raw.Close()
}

func writeFull(conn *net.UnixConn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
