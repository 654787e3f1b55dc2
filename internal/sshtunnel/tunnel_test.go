package sshtunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/stroymat/matrag/internal/config"
)

func TestTunnelAddrs(t *testing.T) {
	tunnel := New(config.SSHTunnelConfig{
		Host:       "bastion.internal",
		Port:       22,
		RemoteHost: "db.internal",
		RemotePort: 5432,
		LocalPort:  15432,
	})
	require.Equal(t, "127.0.0.1:15432", tunnel.LocalAddr())
	require.Equal(t, "db.internal:5432", tunnel.RemoteAddr())
}

func TestTunnelHealthy_BeforeStart(t *testing.T) {
	tunnel := New(config.SSHTunnelConfig{LocalPort: 15432})
	require.False(t, tunnel.Healthy())
}

func TestTunnelClose_Idempotent(t *testing.T) {
	tunnel := New(config.SSHTunnelConfig{LocalPort: 15432})
	require.NoError(t, tunnel.Close())
	require.NoError(t, tunnel.Close())
}

func TestAuthMethods(t *testing.T) {
	tunnel := New(config.SSHTunnelConfig{Password: "pw"})
	methods, err := tunnel.authMethods()
	require.NoError(t, err)
	require.Len(t, methods, 1)

	tunnel = New(config.SSHTunnelConfig{})
	_, err = tunnel.authMethods()
	require.Error(t, err)

	tunnel = New(config.SSHTunnelConfig{PrivateKeyPath: "/nonexistent/key"})
	_, err = tunnel.authMethods()
	require.Error(t, err)
}

// startSSHServer runs a minimal in-process ssh server that accepts
// password auth for the given user and serves direct-tcpip channels by
// dialing the requested target.
func startSSHServer(t *testing.T, user, password string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("auth failed for %q", meta.User())
		},
	}
	cfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, cfg)
		}
	}()
	return listener.Addr().String()
}

func serveSSHConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		var msg struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newChan.ExtraData(), &msg); err != nil {
			newChan.Reject(ssh.ConnectionFailed, "bad channel payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
		if err != nil {
			newChan.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			go io.Copy(ch, target)
			io.Copy(target, ch)
		}()
	}
}

func startEchoServer(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestTunnelForwardsToRemote(t *testing.T) {
	backendPort := startEchoServer(t)
	sshHost, sshPort := splitAddr(t, startSSHServer(t, "matrag", "secret"))

	tunnel := New(config.SSHTunnelConfig{
		Host:       sshHost,
		Port:       sshPort,
		User:       "matrag",
		Password:   "secret",
		RemoteHost: "127.0.0.1",
		RemotePort: backendPort,
		LocalPort:  freePort(t),
	})
	require.NoError(t, tunnel.Start(context.Background()))
	t.Cleanup(func() { tunnel.Close() })
	require.True(t, tunnel.Healthy())

	conn, err := net.DialTimeout("tcp", tunnel.LocalAddr(), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("select 1")
	_, err = conn.Write(payload)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)

	// a second connection through the same tunnel works too
	conn2, err := net.DialTimeout("tcp", tunnel.LocalAddr(), 5*time.Second)
	require.NoError(t, err)
	defer conn2.Close()
	_, err = conn2.Write([]byte("ok"))
	require.NoError(t, err)
	buf2 := make([]byte, 2)
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn2, buf2)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf2))
}

func TestTunnelStart_BadPassword(t *testing.T) {
	sshHost, sshPort := splitAddr(t, startSSHServer(t, "matrag", "secret"))

	tunnel := New(config.SSHTunnelConfig{
		Host:      sshHost,
		Port:      sshPort,
		User:      "matrag",
		Password:  "wrong",
		LocalPort: freePort(t),
	})
	err := tunnel.Start(context.Background())
	require.Error(t, err)
}
