// Command mtctl is an offline toolbox for MT frames: it decodes and builds
// envelopes and link control frames, talks to a coprocessor directly, and
// reads the capture journal written by zigstack.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"zigstack/internal/logging"
	"zigstack/internal/session"
	"zigstack/internal/transport"
)

var version = "dev"

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "mtctl",
		Usage:   "decode, build and send MT frames",
		Version: version,
		Writer:  out,

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
		},

		Commands: []*cli.Command{
			decodeCmd,
			encodeCmd,
			ackCmd,
			crcCmd,
			pingCmd,
			sendCmd,
			resetCmd,
			capturesCmd,
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mtctl:", err)
		os.Exit(1)
	}
}

// lineFlags select the serial line for commands that talk to a device.
var lineFlags = []cli.Flag{
	&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "serial device", Required: true},
	&cli.IntFlag{Name: "baud", Value: 115200, Usage: "baud rate"},
	&cli.BoolFlag{Name: "rtscts", Usage: "adapter uses hardware flow control"},
	&cli.DurationFlag{Name: "timeout", Value: 3 * time.Second, Usage: "request timeout"},
}

// openSession opens the line named by lineFlags. The caller closes the
// session, which closes the port.
func openSession(ctx *cli.Context) (*session.Session, error) {
	logger, _, err := logging.New(logging.Config{Level: ctx.String("log-level")}, os.Stderr)
	if err != nil {
		return nil, err
	}
	port, err := transport.Open(transport.Config{
		Port:        ctx.String("port"),
		BaudRate:    ctx.Int("baud"),
		RTSCTS:      ctx.Bool("rtscts"),
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return session.New(port, session.Options{
		RequestTimeout: ctx.Duration("timeout"),
		LinkAck:        true,
	}, logger.With("cmd", ctx.Command.Name)), nil
}

// requestContext bounds a device exchange by --timeout.
func requestContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
}

// parseByte reads a command byte as hex, with or without a 0x prefix.
func parseByte(name, s string) (uint8, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("--%s: %q is not a hex byte", name, s)
	}
	return uint8(v), nil
}
