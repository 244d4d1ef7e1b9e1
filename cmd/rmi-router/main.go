package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/kbirk/rmi/pkg/log"
	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/kbirk/rmi/pkg/rmi/nats"
	"github.com/kbirk/rmi/pkg/rmi/tcp"
	"github.com/kbirk/rmi/pkg/rmi/unix"
	"github.com/kbirk/rmi/pkg/rmi/websocket"
)

var (
	tcpPort     int
	wsPort      int
	wsPath      string
	unixSocket  string
	natsURL     string
	natsSubject string
	logLevel    string
)

func main() {

	flag.IntVar(&tcpPort, "tcp-port", 9000, "TCP port, negative to disable")
	flag.IntVar(&wsPort, "ws-port", -1, "WebSocket port, negative to disable")
	flag.StringVar(&wsPath, "ws-path", websocket.DefaultPath, "WebSocket path")
	flag.StringVar(&unixSocket, "unix-socket", "", "Unix socket path")
	flag.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	flag.StringVar(&natsSubject, "nats-subject", nats.DefaultSubject, "NATS subject the router listens on")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	white := color.New(color.FgWhite, color.Bold).SprintFunc()

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Invalid `--log-level`: %v\n", err))
		os.Exit(1)
	}
	logger := log.NewConsoleLogger(level, os.Stderr)

	router := rmi.NewRouter(rmi.RouterConfig{
		Logger: logger.WithPrefix("router"),
	})
	router.Handle("listRoutes", func(ctx context.Context, args []any) (any, error) {
		return router.Routes(), nil
	})
	router.AddEndpointRegisteredListener(rmi.NewEndpointRegisteredListener(func(iface rmi.Interface, id rmi.EndpointID) {
		os.Stdout.WriteString(fmt.Sprintf("%s endpoint %s via %s\n", green("[registered]"), white(id), cyan(iface)))
	}))

	transports := map[string]rmi.ServerTransport{}
	if tcpPort >= 0 {
		transports[fmt.Sprintf("tcp:%d", tcpPort)] = tcp.NewServerTransport(tcp.ServerTransportConfig{
			Port:    tcpPort,
			NoDelay: true,
		})
	}
	if wsPort >= 0 {
		transports[fmt.Sprintf("ws:%d%s", wsPort, wsPath)] = websocket.NewServerTransport(websocket.ServerTransportConfig{
			Port: wsPort,
			Path: wsPath,
		})
	}
	if unixSocket != "" {
		transports["unix:"+unixSocket] = unix.NewServerTransport(unix.ServerTransportConfig{
			SocketPath: unixSocket,
		})
	}
	if natsURL != "" {
		transports["nats:"+natsSubject] = nats.NewServerTransport(nats.ServerTransportConfig{
			URL:     natsURL,
			Subject: natsSubject,
		})
	}

	if len(transports) == 0 {
		os.Stderr.WriteString(red("ERROR: ") + "No transport enabled, set at least one of `--tcp-port`, `--ws-port`, `--unix-socket` or `--nats-url`\n")
		os.Exit(1)
	}

	var hubs []*rmi.Hub
	wg := &sync.WaitGroup{}
	for name, transport := range transports {
		hub := rmi.NewHub(rmi.HubConfig{
			Router:    router,
			Transport: transport,
			Logger:    logger.WithPrefix(name),
		})
		hubs = append(hubs, hub)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			os.Stdout.WriteString(fmt.Sprintf("%s %s\n", green("[listening]"), white(name)))
			if err := hub.ListenAndServe(); err != nil {
				os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("%s: %v\n", name, err))
			}
		}(name)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	os.Stdout.WriteString("Shutting down\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, hub := range hubs {
		if err := hub.Shutdown(ctx); err != nil {
			os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Shutdown failed: %v\n", err))
		}
	}
	wg.Wait()
}
