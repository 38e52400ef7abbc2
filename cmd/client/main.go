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
	"time"

	"svsmate/clientstate"
	"svsmate/crdt"
	"svsmate/discovery"
	"svsmate/logger"
	"svsmate/netutil"
	"svsmate/registry"
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

var (
	serverAddr = flag.String("server", os.Getenv("SVSMATE_SERVER_ADDR"), "Server host:port to dial directly, skipping discovery")
	udpPort    = flag.Int("udp-port", getEnvInt("SVSMATE_UDP_PORT", 6790), "UDP discovery port to probe")
	name       = flag.String("name", getEnv("SVSMATE_NAME", netutil.Hostname()), "Display name advertised to the server")
	timeoutMS  = flag.Int("discover-timeout-ms", getEnvInt("SVSMATE_DISCOVER_TIMEOUT_MS", int(discovery.DefaultTimeout/time.Millisecond)), "Discovery window in milliseconds")
)

func main() {
	flag.Parse()
	logger.Init()

	addr := *serverAddr
	if addr == "" {
		found, err := discoverServer()
		if err != nil {
			logger.Error("cmd/client: discovery: %v", err)
			os.Exit(1)
		}
		addr = found
	}

	reg := registry.New(0, crdt.NewSiteID())
	client := clientstate.New(*name, reg)
	client.OnDisconnect(func() { logger.Info("cmd/client: disconnected from %s", addr) })

	if err := client.Connect(addr); err != nil {
		logger.Error("cmd/client: connect: %v", err)
		os.Exit(1)
	}
	logger.Info("cmd/client: connected to %s as %q", addr, *name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("cmd/client: shutting down...")
		client.Disconnect()
		os.Exit(0)
	}()

	runConsole(client, reg)
}

func discoverServer() (string, error) {
	timeout := time.Duration(*timeoutMS) * time.Millisecond
	logger.Info("cmd/client: probing for a server on udp port %d...", *udpPort)
	servers, err := discovery.Probe(*udpPort, *name, timeout)
	if err != nil {
		return "", fmt.Errorf("cmd/client: probe: %w", err)
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("cmd/client: no server responded within %s", timeout)
	}
	chosen := servers[0]
	logger.Info("cmd/client: found %q at %s:%d (%d clients)", chosen.Name, chosen.IP, chosen.TCPPort, chosen.Clients)
	return fmt.Sprintf("%s:%d", chosen.IP, chosen.TCPPort), nil
}

// runConsole is a minimal interactive console for requesting and editing
// documents, reading one command per line from stdin until it is closed.
func runConsole(client *clientstate.Client, reg *registry.Registry) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: list | request <fileId> | edit <fileId> <offset> <deleteLen> <insertText> | quit")
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 2)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		switch fields[0] {
		case "list":
			for _, m := range reg.AllMetadata() {
				fmt.Printf("%s\t%s\towner=%s\n", m.FileID, m.Name, m.OwnerID)
			}
		case "request":
			if len(fields) < 2 {
				fmt.Println("usage: request <fileId>")
				continue
			}
			if err := client.RequestDocument(strings.TrimSpace(fields[1])); err != nil {
				fmt.Printf("request failed: %v\n", err)
			}
		case "edit":
			if len(fields) < 2 {
				fmt.Println("usage: edit <fileId> <offset> <deleteLen> <insertText>")
				continue
			}
			args := strings.SplitN(fields[1], " ", 4)
			if len(args) < 4 {
				fmt.Println("usage: edit <fileId> <offset> <deleteLen> <insertText>")
				continue
			}
			offset, err1 := strconv.Atoi(args[1])
			deleteLen, err2 := strconv.Atoi(args[2])
			if err1 != nil || err2 != nil {
				fmt.Println("offset and deleteLen must be integers")
				continue
			}
			if err := client.Edit(args[0], offset, deleteLen, args[3]); err != nil {
				fmt.Printf("edit failed: %v\n", err)
			}
		case "quit", "exit":
			client.Disconnect()
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
