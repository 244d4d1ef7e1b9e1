package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/kbirk/rmi/pkg/log"
	"github.com/kbirk/rmi/pkg/rmi"
	"github.com/kbirk/rmi/pkg/rmi/nats"
	"github.com/kbirk/rmi/pkg/rmi/tcp"
	"github.com/kbirk/rmi/pkg/rmi/unix"
	"github.com/kbirk/rmi/pkg/rmi/websocket"
	"github.com/urfave/cli"
)

var (
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
)

func clientTransport(c *cli.Context) rmi.ClientTransport {
	switch {
	case c.GlobalString("nats-url") != "":
		return nats.NewClientTransport(nats.ClientTransportConfig{
			URL:     c.GlobalString("nats-url"),
			Subject: c.GlobalString("nats-subject"),
		})
	case c.GlobalString("unix-socket") != "":
		return unix.NewClientTransport(unix.ClientTransportConfig{
			SocketPath: c.GlobalString("unix-socket"),
		})
	case c.GlobalInt("ws-port") >= 0:
		return websocket.NewClientTransport(websocket.ClientTransportConfig{
			Host: c.GlobalString("host"),
			Port: c.GlobalInt("ws-port"),
		})
	}
	return tcp.NewClientTransport(tcp.ClientTransportConfig{
		Host:    c.GlobalString("host"),
		Port:    c.GlobalInt("tcp-port"),
		NoDelay: true,
	})
}

// session is a registered endpoint ready to issue one request.
type session struct {
	endpoint *rmi.Endpoint
	iface    *rmi.ConnInterface
	ctx      context.Context
	cancel   context.CancelFunc
}

func (s *session) close() {
	s.cancel()
	s.iface.Close()
}

func connect(c *cli.Context) (*session, error) {
	level, err := log.ParseLevel(c.GlobalString("log-level"))
	if err != nil {
		return nil, err
	}
	logger := log.NewConsoleLogger(level, os.Stderr)

	iface, err := rmi.Dial(clientTransport(c), rmi.ConnInterfaceConfig{Logger: logger.WithPrefix("conn")})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	endpoint := rmi.NewEndpoint(rmi.EndpointConfig{
		Interface: iface,
		Logger:    logger.WithPrefix("endpoint"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	if err := endpoint.WaitRegistered(ctx); err != nil {
		cancel()
		iface.Close()
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	return &session{endpoint: endpoint, iface: iface, ctx: ctx, cancel: cancel}, nil
}

// request reads "<target> <method> [args...]" from the command line.
func request(c *cli.Context) (rmi.EndpointID, string, []any, error) {
	if c.NArg() < 2 {
		return 0, "", nil, fmt.Errorf("expected <target> <method> [args...]")
	}
	target, err := strconv.ParseUint(c.Args().Get(0), 10, 32)
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid target %q: %w", c.Args().Get(0), err)
	}
	return rmi.EndpointID(target), c.Args().Get(1), parseArgs(c.Args()[2:]), nil
}

func printResult(res any) error {
	js, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	os.Stdout.WriteString(green("RESULT: ") + string(js) + "\n")
	return nil
}

func callCommand(c *cli.Context) error {
	target, method, args, err := request(c)
	if err != nil {
		return err
	}

	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.endpoint.Call(s.ctx, target, method, args...)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}
	return printResult(res)
}

func notifyCommand(c *cli.Context) error {
	target, method, args, err := request(c)
	if err != nil {
		return err
	}

	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.endpoint.Notify(target, method, args...); err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}

	// frames are written in order, the answer means the notify has left
	_, err = s.endpoint.Call(s.ctx, rmi.RouterID, "listRoutes")
	if err != nil && !errors.Is(err, rmi.ErrInvalidServiceMethod) {
		return fmt.Errorf("notify not confirmed: %w", err)
	}

	os.Stdout.WriteString(yellow("SENT: ") + fmt.Sprintf("%s to %d\n", method, target))
	return nil
}

func routesCommand(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.endpoint.Call(s.ctx, rmi.RouterID, "listRoutes")
	if err != nil {
		return fmt.Errorf("listing routes failed: %w", err)
	}
	return printResult(res)
}

// parseArgs decodes each argument as a single JSON value, falling back to the
// raw string.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			args = append(args, s)
			continue
		}
		args = append(args, v)
	}
	return args
}

func main() {
	app := cli.NewApp()
	app.Name = "rmi-call"
	app.Usage = "register an endpoint with a router and invoke a remote method"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Value: "localhost",
			Usage: "Router host for tcp and websocket",
		},
		cli.IntFlag{
			Name:  "tcp-port",
			Value: 9000,
			Usage: "Router TCP port",
		},
		cli.IntFlag{
			Name:  "ws-port",
			Value: -1,
			Usage: "Router WebSocket port, used instead of TCP when set",
		},
		cli.StringFlag{
			Name:  "unix-socket",
			Usage: "Router Unix socket, used instead of TCP when set",
		},
		cli.StringFlag{
			Name:  "nats-url",
			Usage: "NATS server URL, used instead of TCP when set",
		},
		cli.StringFlag{
			Name:  "nats-subject",
			Value: nats.DefaultSubject,
			Usage: "NATS subject the router listens on",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 10 * time.Second,
			Usage: "Time to wait for registration and the result",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
			Usage: "Log level (debug, info, warn, error)",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:      "call",
			Usage:     "Call a method and print its result",
			ArgsUsage: "<target> <method> [args...]",
			Action:    callCommand,
		},
		cli.Command{
			Name:      "notify",
			Usage:     "Notify a method without waiting for a result",
			ArgsUsage: "<target> <method> [args...]",
			Action:    notifyCommand,
		},
		cli.Command{
			Name:   "routes",
			Usage:  "Print the router's routing table",
			Action: routesCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(red("ERROR: ") + err.Error() + "\n")
		os.Exit(1)
	}
}
