package main

import (
	"context"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Names of the systemd sockets (FileDescriptorName=) handed to the servers
const (
	httpSocketName    = "http"
	monitorSocketName = "monitor"
)

type multiListener struct {
	listeners []*net.TCPListener
	connChan  chan acceptResult
	ctx       context.Context
	cancel    context.CancelFunc
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// activatedListeners are the sockets passed by systemd, keyed by name
var activatedListeners = sync.OnceValue(func() map[string][]net.Listener {
	ls, err := activation.ListenersWithNames()
	if err != nil {
		logger.Warn("systemd socket activation failed", zap.Error(err))
		return nil
	}
	return ls
})

// listen returns the systemd socket called name when activated, otherwise it
// listens on addr. maxConns > 0 limits the accepted connections.
func listen(name, addr string, maxConns int) (net.Listener, error) {
	var lis net.Listener
	if ls := activatedListeners()[name]; len(ls) > 0 && ls[0] != nil {
		lis = ls[0]
	} else {
		var err error
		if lis, err = newListener(addr); err != nil {
			return nil, err
		}
	}
	if maxConns > 0 {
		lis = netutil.LimitListener(lis, maxConns)
	}
	return lis, nil
}

func newListener(addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	iPort, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	switch host {
	case "":
		return net.Listen("tcp", addr)
	case "localhost":
		if ips, err = getLocalhostIP(); err != nil {
			return nil, err
		}
	default:
		if ips, err = net.LookupIP(host); err != nil {
			return nil, err
		}
	}
	switch len(ips) {
	case 0:
		return net.Listen("tcp", addr)
	case 1:
		return net.ListenTCP("tcp", &net.TCPAddr{IP: ips[0], Port: iPort})
	}
	return newMultiListener(ips, iPort)
}

func getLocalhostIP() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	rt := make([]net.IP, 0, 2)
	for _, addr := range addrs {
		if ip, ok := addr.(*net.IPNet); ok && ip.IP.IsLoopback() {
			rt = append(rt, ip.IP)
		}
	}
	return rt, nil
}

// newMultiListener listens on every ip, e.g. both 127.0.0.1 and ::1 for
// localhost
func newMultiListener(ips []net.IP, port int) (lis net.Listener, err error) {
	listeners := make([]*net.TCPListener, 0, len(ips))
	defer func() {
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
		}
	}()
	for _, ip := range ips {
		l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: ip, Port: port})
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &multiListener{
		listeners: listeners,
		connChan:  make(chan acceptResult),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, l := range listeners {
		go rt.acceptLoop(l)
	}
	return rt, nil
}

func (ml *multiListener) acceptLoop(l *net.TCPListener) {
	for {
		conn, err := l.AcceptTCP()
		select {
		case ml.connChan <- acceptResult{conn: conn, err: err}:
		case <-ml.ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
	}
}

func (ml *multiListener) Accept() (net.Conn, error) {
	select {
	case ar := <-ml.connChan:
		return ar.conn, ar.err
	case <-ml.ctx.Done():
		return nil, syscall.EINVAL
	}
}

func (ml *multiListener) Close() error {
	ml.cancel()
	for _, l := range ml.listeners {
		l.Close()
	}
	return nil
}

func (ml *multiListener) Addr() net.Addr {
	return ml.listeners[0].Addr()
}

func printListener(lis net.Listener) string {
	switch l := lis.(type) {
	case *multiListener:
		addrs := make([]string, 0, len(l.listeners))
		for _, l := range l.listeners {
			addrs = append(addrs, l.Addr().String())
		}
		return strings.Join(addrs, ",")
	default:
		return lis.Addr().String()
	}
}
