package forward

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// startEcho runs a line echo server and returns its port.
func startEcho(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(c)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func roundTrip(t *testing.T, host string, port int, msg string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 2*time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = fmt.Fprintf(c, "%s\n", msg)
	require.NoError(t, err)
	line, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, msg+"\n", line)
}

func TestDoNothingIsIdentity(t *testing.T) {
	h, err := DoNothing{}.Create(0, 9222, true)
	require.NoError(t, err)
	assert.Equal(t, 9222, h.LocalPort())
	assert.Equal(t, 9222, h.RemotePort())
	assert.False(t, h.Closed())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "double close is a no-op")
	assert.True(t, h.Closed())

	_, err = DoNothing{}.Create(1234, 9222, true)
	assert.Error(t, err)
	_, err = DoNothing{}.Create(0, 0, true)
	assert.Error(t, err)
}

func TestTCPForwarderProxies(t *testing.T) {
	echoPort := startEcho(t)

	f := &TCP{RemoteHost: "127.0.0.1"}
	h, err := f.Create(0, echoPort, true)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	assert.NotZero(t, h.LocalPort())
	assert.NotEqual(t, echoPort, h.LocalPort())
	assert.Equal(t, echoPort, h.RemotePort())
	assert.Contains(t, Describe(h), "open")

	roundTrip(t, h.Host(), h.LocalPort(), "hello devtools")
	roundTrip(t, h.Host(), h.LocalPort(), "second connection")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.Closed())
	assert.Contains(t, Describe(h), "closed")

	_, err = net.DialTimeout("tcp", net.JoinHostPort(h.Host(), strconv.Itoa(h.LocalPort())), 200*time.Millisecond)
	assert.Error(t, err, "listener must be gone after close")
}

func TestTCPForwarderPortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	_, err = (&TCP{RemoteHost: "127.0.0.1"}).Create(port, 9222, true)
	require.Error(t, err)
	assert.True(t, IsPortAllocation(err), "want PortAllocationError, got %T %v", err, err)
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}

func TestTCPForwarderRejectsRemoteListen(t *testing.T) {
	_, err := (&TCP{RemoteHost: "127.0.0.1"}).Create(0, 9222, false)
	assert.ErrorIs(t, err, ErrDirectionUnsupported)
}

func TestDescribeNil(t *testing.T) {
	assert.Equal(t, "<none>", Describe(nil))
}

// startSSHServer runs a minimal SSH server that accepts password "secret" and
// serves direct-tcpip channels.
func startSSHServer(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			nConn, err := l.Accept()
			if err != nil {
				return
			}
			go serveSSH(nConn, cfg)
		}
	}()
	return l.Addr().String()
}

func serveSSH(nConn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		nConn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var p struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &p); err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			done := make(chan struct{}, 2)
			go func() { _, _ = io.Copy(target, ch); done <- struct{}{} }()
			go func() { _, _ = io.Copy(ch, target); done <- struct{}{} }()
			<-done
		}()
	}
}

func TestSSHForwarderReverse(t *testing.T) {
	echoPort := startEcho(t)
	addr := startSSHServer(t)

	f := NewSSH(SSHConfig{Addr: addr, User: "tester", Password: "secret", Timeout: 2 * time.Second})
	t.Cleanup(func() { f.Close() })

	h, err := f.Create(0, echoPort, true)
	require.NoError(t, err)
	assert.Equal(t, echoPort, h.RemotePort())

	roundTrip(t, h.Host(), h.LocalPort(), "through ssh")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestSSHForwarderAuthConfig(t *testing.T) {
	f := NewSSH(SSHConfig{Addr: "127.0.0.1:1", User: "nobody"})
	_, err := f.Create(0, 9222, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key file or password")

	f = NewSSH(SSHConfig{Addr: "127.0.0.1:1", User: "nobody", KeyFile: "/does/not/exist"})
	_, err = f.Create(0, 9222, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ssh key")

	_, err = f.Create(0, 0, true)
	assert.Error(t, err)
}
