package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/stroymat/matrag/internal/config"
)

const (
	dialTimeout       = 10 * time.Second
	keepaliveInterval = 30 * time.Second
	reconnectMax      = 1 * time.Minute
)

// Tunnel keeps a local TCP listener whose connections are forwarded to
// the database host over SSH. The db layer connects to LocalAddr()
// instead of the remote postgres directly.
type Tunnel struct {
	cfg config.SSHTunnelConfig

	mu       sync.Mutex
	client   *ssh.Client
	listener net.Listener
	closed   bool
	done     chan struct{}
}

func New(cfg config.SSHTunnelConfig) *Tunnel {
	return &Tunnel{cfg: cfg, done: make(chan struct{})}
}

func (t *Tunnel) LocalAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", t.cfg.LocalPort)
}

func (t *Tunnel) RemoteAddr() string {
	return fmt.Sprintf("%s:%d", t.cfg.RemoteHost, t.cfg.RemotePort)
}

// Start dials the SSH host, binds the local listener and launches the
// accept and keepalive loops. It returns once the listener is bound, so
// callers can open database connections immediately after.
func (t *Tunnel) Start(ctx context.Context) error {
	client, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("ssh dial: %w", err)
	}
	listener, err := net.Listen("tcp", t.LocalAddr())
	if err != nil {
		client.Close()
		return fmt.Errorf("tunnel listen: %w", err)
	}
	t.mu.Lock()
	t.client = client
	t.listener = listener
	t.mu.Unlock()

	logutil.GetLogger(ctx).Info("ssh tunnel established",
		zap.String("ssh_host", fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)),
		zap.String("remote", t.RemoteAddr()),
		zap.String("local", t.LocalAddr()),
	)
	go t.acceptLoop(ctx)
	go t.keepaliveLoop(ctx)
	return nil
}

// Healthy reports whether the SSH connection currently answers
// keepalive requests.
func (t *Tunnel) Healthy() bool {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.listener != nil {
		t.listener.Close()
	}
	if t.client != nil {
		t.client.Close()
	}
	return nil
}

func (t *Tunnel) dial(ctx context.Context) (*ssh.Client, error) {
	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (t *Tunnel) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if t.cfg.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(t.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.cfg.Password != "" {
		methods = append(methods, ssh.Password(t.cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh tunnel has no auth method")
	}
	return methods, nil
}

func (t *Tunnel) acceptLoop(ctx context.Context) {
	for {
		t.mu.Lock()
		listener := t.listener
		t.mu.Unlock()
		if listener == nil {
			return
		}
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			logutil.GetLogger(ctx).Warn("tunnel accept failed", zap.Error(err))
			continue
		}
		go t.forward(ctx, conn)
	}
}

func (t *Tunnel) forward(ctx context.Context, local net.Conn) {
	defer local.Close()
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return
	}
	remote, err := client.Dial("tcp", t.RemoteAddr())
	if err != nil {
		logutil.GetLogger(ctx).Warn("tunnel remote dial failed",
			zap.String("remote", t.RemoteAddr()), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func (t *Tunnel) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		if t.Healthy() {
			continue
		}
		logutil.GetLogger(ctx).Warn("ssh tunnel lost, reconnecting")
		t.reconnect(ctx)
	}
}

func (t *Tunnel) reconnect(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-t.done:
			return
		default:
		}
		client, err := t.dial(ctx)
		if err == nil {
			t.mu.Lock()
			if t.client != nil {
				t.client.Close()
			}
			t.client = client
			t.mu.Unlock()
			logutil.GetLogger(ctx).Info("ssh tunnel reconnected")
			return
		}
		logutil.GetLogger(ctx).Warn("ssh tunnel reconnect failed",
			zap.Duration("retry_in", backoff), zap.Error(err))
		select {
		case <-t.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}
