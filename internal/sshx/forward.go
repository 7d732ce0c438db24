package sshx

import (
	"fmt"
	"io"
	"net"
	"sync"
)

// ForwardPort listens on 127.0.0.1:local and pipes each connection to
// 127.0.0.1:remote on the far side of the channel. Closing the returned
// closer stops the listener; in-flight connections drain on their own.
func (c *Client) ForwardPort(local, remote int) (io.Closer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", local))
	if err != nil {
		return nil, fmt.Errorf("listen on local port %d: %w", local, err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go c.pipe(conn, remote)
		}
	}()
	return ln, nil
}

func (c *Client) pipe(local net.Conn, remotePort int) {
	defer local.Close()
	remote, err := c.conn.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", remotePort))
	if err != nil {
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		_ = local.Close()
	}()
	wg.Wait()
}
