package forward

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// SSHConfig describes how to reach the machine the browser runs on.
type SSHConfig struct {
	Addr           string // host:port of the SSH server
	User           string
	KeyFile        string // private key path
	Password       string // used when KeyFile is empty
	KnownHostsFile string // empty = do not verify host key
	Timeout        time.Duration
	RemoteHost     string // address the browser listens on, as seen from the SSH server (default 127.0.0.1)
}

// SSH forwards over a single shared SSH client connection, dialed lazily on
// the first Create and closed by Close.
type SSH struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates an SSH factory.
func NewSSH(cfg SSHConfig) *SSH {
	if cfg.RemoteHost == "" {
		cfg.RemoteHost = "127.0.0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SSH{cfg: cfg}
}

func (f *SSH) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if f.cfg.KeyFile != "" {
		key, err := os.ReadFile(f.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if f.cfg.Password != "" {
		auth = append(auth, ssh.Password(f.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no key file or password configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: opt-in via empty knownHostsFile, test rigs use throwaway hosts
	if f.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(f.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	} else {
		L_warn("forward: ssh host key verification disabled", "addr", f.cfg.Addr)
	}

	return &ssh.ClientConfig{
		User:            f.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         f.cfg.Timeout,
	}, nil
}

func (f *SSH) dial() (*ssh.Client, error) {
	cc, err := f.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", f.cfg.Addr, cc)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", f.cfg.Addr, err)
	}
	L_info("forward: ssh connected", "addr", f.cfg.Addr, "user", f.cfg.User)
	return client, nil
}

func (f *SSH) connection() (*ssh.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	c, err := f.dial()
	if err != nil {
		return nil, err
	}
	f.client = c
	return c, nil
}

// Create opens a tunnel over the shared SSH connection.
func (f *SSH) Create(localPort, remotePort int, reverse bool) (Handle, error) {
	if remotePort <= 0 {
		return nil, fmt.Errorf("forward: invalid remote port %d", remotePort)
	}
	client, err := f.connection()
	if err != nil {
		return nil, err
	}

	remoteAddr := net.JoinHostPort(f.cfg.RemoteHost, strconv.Itoa(remotePort))

	if reverse {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, &PortAllocationError{Addr: addr, Err: err}
		}
		actual := l.Addr().(*net.TCPAddr).Port
		t := newTunnel("ssh", "127.0.0.1", actual, remotePort, l, func() (net.Conn, error) {
			return client.Dial("tcp", remoteAddr)
		})
		L_info("forward: ssh tunnel created", "localPort", actual, "remote", remoteAddr, "via", f.cfg.Addr)
		return t, nil
	}

	// Expose a local service on the remote machine: listen there, dial here.
	if localPort <= 0 {
		return nil, fmt.Errorf("forward: ssh remote listen needs an explicit local port")
	}
	l, err := client.Listen("tcp", remoteAddr)
	if err != nil {
		return nil, &PortAllocationError{Addr: remoteAddr + " (remote)", Err: err}
	}
	localAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort))
	t := newTunnel("ssh-remote", "127.0.0.1", localPort, remotePort, l, func() (net.Conn, error) {
		return net.DialTimeout("tcp", localAddr, f.cfg.Timeout)
	})
	L_info("forward: ssh remote listener created", "remote", remoteAddr, "local", localAddr, "via", f.cfg.Addr)
	return t, nil
}

// Close drops the shared SSH connection. Tunnels created from it stop working.
func (f *SSH) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}
