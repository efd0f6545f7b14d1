package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"rosterchat/internal/logx"
)

// RunLocal starts a relay on a loopback port and runs the client against
// it. Relay and client share the client's log file.
func RunLocal(ctx context.Context, serverCfg ServerConfig, clientCfg ClientConfig) error {
	if clientCfg.Username == "" {
		return ErrUsernameRequired
	}
	if serverCfg.Addr == "" {
		serverCfg.Addr = "127.0.0.1:0"
	}
	logFile, err := openLog(clientCfg.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logx.Init(clientCfg.Dev, logFile)

	handle, err := RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	clientCfg.ServerURL = BuildWebsocketURL(handle.Addr(), serverCfg.Path)
	if err := runClient(ctx, clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// BuildWebsocketURL turns a listen address into a URL a local client can
// dial. Wildcard hosts become the loopback address.
func BuildWebsocketURL(addr, path string) string {
	path = NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func stopServer(handle *ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
