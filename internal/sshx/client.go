// Package sshx is the remote execution channel: it authenticates to a
// host, runs one command per call with live output streaming, and maps
// transport failures onto a small error taxonomy the orchestrator can
// act on. It never decides whether a non-zero exit is fatal.
package sshx

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	// DefaultDialTimeout keeps list-style checks from hanging on a dead
	// host.
	DefaultDialTimeout = 10 * time.Second

	keepaliveInterval = 30 * time.Second
)

// Config identifies one reachable host and how to authenticate to it.
type Config struct {
	Host         string
	Username     string
	IdentityFile string
	Port         int
	DialTimeout  time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client is an authenticated shell channel to one host.
type Client struct {
	cfg  Config
	conn *ssh.Client
	stop chan struct{}
}

// Dial opens an authenticated connection. Credential rejection returns
// ErrAuthentication; timeouts and refusals return ErrUnreachable.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	auth := authMethods(cfg.IdentityFile)
	if len(auth) == 0 {
		return nil, fmt.Errorf("no usable credentials: no agent and no identity file at %s", cfg.IdentityFile)
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: auth,
		// Hosts here are short-lived rented instances; pinning host keys
		// would make every re-provision a manual intervention.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", cfg.addr(), clientCfg)
		ch <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine may still complete; close whatever it
		// produces so an abandoned handshake does not leak a connection.
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, classifyDialError(cfg.Host, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, classifyDialError(cfg.Host, res.err)
		}
		c := &Client{cfg: cfg, conn: res.conn, stop: make(chan struct{})}
		go c.keepalive()
		return c, nil
	}
}

// Close tears down the connection. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	close(c.stop)
	return c.conn.Close()
}

// Host returns the host this client is connected to.
func (c *Client) Host() string { return c.cfg.Host }

func (c *Client) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_, _, _ = c.conn.SendRequest("keepalive@openssh.com", true, nil)
		}
	}
}

func authMethods(identityFile string) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if identityFile != "" {
		if key, err := os.ReadFile(identityFile); err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}
	return methods
}

// WaitReady polls the host with a trivial command until it answers or
// the timeout lapses. A zero timeout waits forever (ctx still applies).
func WaitReady(ctx context.Context, cfg Config, timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		client, err := Dial(ctx, cfg)
		if err == nil {
			res, runErr := client.Run(ctx, "true", RunOptions{})
			_ = client.Close()
			if runErr == nil && res.ExitCode == 0 {
				return nil
			}
			err = runErr
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			if err == nil {
				err = fmt.Errorf("host answered but command failed")
			}
			return fmt.Errorf("host %s not ready after %s: %w", cfg.Host, timeout, err)
		}
		select {
		case <-ctx.Done():
			return classifyDialError(cfg.Host, ctx.Err())
		case <-time.After(5 * time.Second):
		}
	}
}
