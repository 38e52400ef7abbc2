package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"svsmate/crdt"
	"svsmate/logger"
	"svsmate/persistence"
	"svsmate/registry"
	"svsmate/serverstate"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

var (
	tcpPort    = flag.Int("tcp-port", getEnvInt("SVSMATE_TCP_PORT", 6789), "TCP port to listen on")
	udpPort    = flag.Int("udp-port", getEnvInt("SVSMATE_UDP_PORT", 6790), "UDP discovery port to listen on")
	name       = flag.String("name", getEnv("SVSMATE_NAME", "svsmate-server"), "Server name advertised to discovery probes")
	queueCap   = flag.Int("queue-cap", getEnvInt("SVSMATE_QUEUE_CAP", 256), "Pending-update queue capacity for unknown fileIds")
	journalOn  = flag.Bool("session-journal", getEnvBool("SVSMATE_SESSION_JOURNAL", false), "Keep an in-memory, process-lifetime log of share/join/leave events")
	share      = flag.String("share", os.Getenv("SVSMATE_SHARE_FILES"), "Comma-separated paths to share on startup")
)

func main() {
	flag.Parse()
	logger.Init()

	var journal *persistence.Journal
	if *journalOn {
		var err error
		journal, err = persistence.Open()
		if err != nil {
			logger.Error("cmd/server: open session journal: %v", err)
			os.Exit(1)
		}
		defer journal.Close()
		logger.Info("cmd/server: in-memory session journal enabled")
	} else {
		logger.Info("cmd/server: session journal disabled")
	}

	reg := registry.New(*queueCap, crdt.NewSiteID())
	srv := serverstate.NewServer(*name, *tcpPort, *udpPort, reg, journal)
	if err := srv.Start(); err != nil {
		logger.Error("cmd/server: start: %v", err)
		os.Exit(1)
	}
	logger.Info("cmd/server: %q listening tcp=%d udp=%d", *name, srv.TCPPort, srv.UDPPort)

	for _, path := range strings.Split(*share, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		meta, err := srv.ShareFile(path)
		if err != nil {
			logger.Error("cmd/server: share %s: %v", path, err)
			continue
		}
		logger.Info("cmd/server: shared %s as %s", path, meta.FileID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("cmd/server: shutting down...")
		srv.Stop()
		os.Exit(0)
	}()

	runConsole(srv)
}

// runConsole is a minimal interactive console for owner-side share/unshare,
// reading one command per line from stdin until it is closed.
func runConsole(srv *serverstate.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: share <path> | unshare <fileId> | quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "share":
			if len(fields) < 2 {
				fmt.Println("usage: share <path>")
				continue
			}
			meta, err := srv.ShareFile(fields[1])
			if err != nil {
				fmt.Printf("share failed: %v\n", err)
				continue
			}
			fmt.Printf("shared as %s\n", meta.FileID)
		case "unshare":
			if len(fields) < 2 {
				fmt.Println("usage: unshare <fileId>")
				continue
			}
			if err := srv.UnshareFile(fields[1]); err != nil {
				fmt.Printf("unshare failed: %v\n", err)
			}
		case "quit", "exit":
			srv.Stop()
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
