package server

import (
	"errors"
	"log"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// preflightWait is how long each takeover pass waits for a prior instance
// to release the port.
const preflightWait = time.Second

// listenWithPreflight binds addr. When the port is held by a prior instance
// of the daemon it asks that process to terminate, waits, and retries; a
// second failed pass is fatal.
func listenWithPreflight(name, addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err == nil || !errors.Is(err, syscall.EADDRINUSE) {
		return listener, err
	}

	for pass := 0; pass < 2; pass++ {
		log.Printf("%s: %s in use, requesting prior instance to stop", name, addr)
		terminatePortHolders(addr)

		deadline := time.Now().Add(preflightWait)
		for time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
			if listener, err = net.Listen("tcp", addr); err == nil {
				return listener, nil
			}
		}
	}
	return nil, err
}

// terminatePortHolders sends SIGTERM to every process listening on addr's
// port, found by port lookup. The current process is never signalled.
func terminatePortHolders(addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	out, err := exec.Command("lsof", "-ti", "tcp:"+port, "-sTCP:LISTEN").Output()
	if err != nil {
		return
	}
	self := os.Getpid()
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid == self {
			continue
		}
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}
}
