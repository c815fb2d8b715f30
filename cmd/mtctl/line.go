package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"zigstack/internal/mt"
	"zigstack/internal/session"
)

var pingCmd = &cli.Command{
	Name:  "ping",
	Usage: "ping the coprocessor and print its version",
	Flags: lineFlags,
	Action: func(ctx *cli.Context) error {
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		rctx, cancel := requestContext(ctx)
		defer cancel()

		start := time.Now()
		caps, err := s.Ping(rctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Fprintf(ctx.App.Writer, "capabilities 0x%04X %s (%s)\n",
			caps, strings.Join(session.CapabilityNames(caps), ","), time.Since(start).Round(time.Millisecond))

		v, err := s.Version(rctx)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		fmt.Fprintf(ctx.App.Writer, "version      %s\n", v)
		return nil
	},
}

var sendCmd = &cli.Command{
	Name:  "send",
	Usage: "send one MT frame; SREQs wait for and print the SRSP",
	Flags: append(append([]cli.Flag{}, lineFlags...), frameFlags...),
	Action: func(ctx *cli.Context) error {
		cmd, payload, err := frameFromFlags(ctx)
		if err != nil {
			return err
		}
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		rctx, cancel := requestContext(ctx)
		defer cancel()

		if cmd.Type() != mt.TypeSREQ {
			if err := s.Send(rctx, cmd, payload); err != nil {
				return fmt.Errorf("send %s: %w", cmd, err)
			}
			fmt.Fprintf(ctx.App.Writer, "sent %s\n", cmd)
			return nil
		}

		start := time.Now()
		resp, err := s.Request(rctx, cmd, payload)
		if err != nil {
			return fmt.Errorf("request %s: %w", cmd, err)
		}
		fmt.Fprintf(ctx.App.Writer, "%s in %s\n", resp, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var resetCmd = &cli.Command{
	Name:  "reset",
	Usage: "reset the coprocessor and print the reset indication",
	Flags: append(append([]cli.Flag{}, lineFlags...),
		&cli.BoolFlag{Name: "hard", Usage: "hard reset instead of soft"},
	),
	Action: func(ctx *cli.Context) error {
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		rctx, cancel := requestContext(ctx)
		defer cancel()

		kind := session.ResetSoft
		if ctx.Bool("hard") {
			kind = session.ResetHard
		}
		ind, err := s.Reset(rctx, kind)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintf(ctx.App.Writer, "%s\n", ind)
		return nil
	},
}
