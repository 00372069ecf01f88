// Package transport is the default UDP socket layer: it owns the listening
// sockets, reads datagrams into the receiver, and implements xpack.Sender
// for outgoing writes.
//
// Grounded on the teacher's source/server/server.go connection handling
// (NewServer/Start/listen: one net.ListenUDP socket, a for-loop of
// ReadFromUDP copying each datagram before dispatching it on its own
// goroutine, Stop() closing the conn to unblock the read). Multicast-group
// membership and SO_REUSEPORT (so a unicast and a multicast socket can share
// a domain's port, spec.md section 4.1's discovery locators) are grounded on
// runZeroInc-sockstats/pkg/kernel/kernel_unix.go's use of
// golang.org/x/sys/unix for raw socket options.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
	"github.com/eclipse-cyclonedds/ddsi-core-go/pkg/logger"
)

// OnDatagram is invoked once per received UDP datagram, on its own
// goroutine, with a buffer the callee owns outright.
type OnDatagram func(data []byte, src locator.Locator)

const maxDatagramSize = 65507

// socket is one bound UDP listener plus the locator it was bound to.
type socket struct {
	name string
	loc  locator.Locator
	conn *net.UDPConn

	mu      sync.Mutex
	running bool
}

// Transport is a set of UDP sockets for one participant: typically one
// unicast socket used for both send and receive, plus zero or more
// multicast sockets joined for discovery/group traffic.
type Transport struct {
	name    string
	log     *logger.Entry
	primary *socket

	mu      sync.Mutex
	sockets []*socket
	wg      sync.WaitGroup
}

// New creates an empty transport. Call Listen (and optionally JoinMulticast)
// before Start.
func New(name string) *Transport {
	return &Transport{name: name, log: logger.For("transport")}
}

// reusePortControl sets SO_REUSEPORT on the listening socket so a unicast
// and a multicast listener (or several participants in the same process)
// can share a port.
func reusePortControl(c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// Listen binds a unicast UDP socket at loc. The first socket Listen creates
// becomes the transport's primary send socket.
func (t *Transport) Listen(loc locator.Locator) error {
	addr, err := loc.UDPAddr()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error { return reusePortControl(c) }}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", loc, err)
	}
	conn := pc.(*net.UDPConn)
	bound := locator.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	s := &socket{name: bound.String(), loc: bound, conn: conn}
	t.mu.Lock()
	t.sockets = append(t.sockets, s)
	if t.primary == nil {
		t.primary = s
	}
	t.mu.Unlock()
	return nil
}

// JoinMulticast binds a socket to group's port (SO_REUSEPORT, so it can
// coexist with the unicast listener already on that port) and joins the
// multicast group, with iface selecting the local interface address to join
// on (the zero locator lets the kernel pick).
func (t *Transport) JoinMulticast(group, iface locator.Locator) error {
	if group.Kind != locator.KindUDPv4 {
		return fmt.Errorf("transport: multicast join only supports UDPv4 locators")
	}
	addr, err := group.UDPAddr()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error { return reusePortControl(c) }}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", addr.Port))
	if err != nil {
		return fmt.Errorf("transport: listen multicast %s: %w", group, err)
	}
	conn := pc.(*net.UDPConn)

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.Address[12:16])
	copy(mreq.Interface[:], iface.Address[12:16])
	rc, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: %w", err)
	}
	var joinErr error
	if err := rc.Control(func(fd uintptr) {
		joinErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	}); err != nil {
		conn.Close()
		return fmt.Errorf("transport: %w", err)
	}
	if joinErr != nil {
		conn.Close()
		return fmt.Errorf("transport: join multicast %s: %w", group, joinErr)
	}

	s := &socket{name: group.String(), loc: group, conn: conn}
	t.mu.Lock()
	t.sockets = append(t.sockets, s)
	if t.primary == nil {
		t.primary = s
	}
	t.mu.Unlock()
	return nil
}

// Start launches one read loop per listening socket, delivering each
// datagram to onDatagram on its own goroutine (mirrors the teacher's
// "copy the buffer, then go s.raknet.HandlePacket(data, addr)" shape).
func (t *Transport) Start(onDatagram OnDatagram) {
	t.mu.Lock()
	sockets := append([]*socket(nil), t.sockets...)
	t.mu.Unlock()
	for _, s := range sockets {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		t.wg.Add(1)
		go t.listen(s, onDatagram)
	}
}

func (t *Transport) listen(s *socket, onDatagram OnDatagram) {
	defer t.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return
			}
			t.log.WithField("socket", s.name).WithField("err", err).Warn("read error")
			continue
		}
		metrics.PacketsReceived.WithLabelValues(s.name).Inc()
		data := make([]byte, n)
		copy(data, buf[:n])
		go onDatagram(data, locator.FromUDPAddr(addr))
	}
}

// Stop closes every socket, unblocking their read loops, and waits for the
// read goroutines to exit.
func (t *Transport) Stop() {
	t.mu.Lock()
	sockets := append([]*socket(nil), t.sockets...)
	t.mu.Unlock()
	for _, s := range sockets {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.conn.Close()
	}
	t.wg.Wait()
}

// PrimaryLocator returns the locator the primary socket is actually bound
// to (useful when Listen was given a wildcard port).
func (t *Transport) PrimaryLocator() (locator.Locator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.primary == nil {
		return locator.Locator{}, false
	}
	return t.primary.loc, true
}

// SendTo writes data to l using the transport's primary socket.
func (t *Transport) SendTo(l locator.Locator, data []byte) error {
	if t.primary == nil {
		return fmt.Errorf("transport: no socket to send from")
	}
	addr, err := l.UDPAddr()
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if _, err := t.primary.conn.WriteToUDP(data, addr); err != nil {
		metrics.SendErrors.WithLabelValues(t.primary.name).Inc()
		return fmt.Errorf("transport: send to %s: %w", l, err)
	}
	return nil
}

// SendToAddrSet writes data to every unicast locator in as, and to every
// multicast locator too unless unicastOnly is set (xmsg.DestAllUC's
// contract, spec.md section 4.7).
func (t *Transport) SendToAddrSet(as locator.AddrSet, unicastOnly bool, data []byte) error {
	var firstErr error
	for _, l := range as.Unicast {
		if err := t.SendTo(l, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !unicastOnly {
		for _, l := range as.Multicast {
			if err := t.SendTo(l, data); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
