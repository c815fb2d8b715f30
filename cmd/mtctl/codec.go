package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"zigstack/internal/link"
	"zigstack/internal/mt"
	"zigstack/internal/transport"
)

// hexArgs joins the positional arguments so "FE 00 21 01 20" works unquoted.
func hexArgs(ctx *cli.Context) ([]byte, error) {
	if ctx.NArg() == 0 {
		return nil, fmt.Errorf("%s: missing hex argument", ctx.Command.Name)
	}
	return mt.ParseHex(strings.Join(ctx.Args().Slice(), ""))
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "decode an MT envelope or a link control frame",
	ArgsUsage: "<hex>",
	Action: func(ctx *cli.Context) error {
		raw, err := hexArgs(ctx)
		if err != nil {
			return err
		}
		if len(raw) > 0 && raw[0] == mt.SOF {
			f, err := mt.DecodeStandard(raw)
			if err != nil {
				return fmt.Errorf("decode: %s: %w", mt.ErrorKind(err), err)
			}
			printFrame(ctx.App.Writer, f)
			return nil
		}
		f, err := link.DecodeControlFrame(raw)
		if err != nil {
			return fmt.Errorf("decode: %s: %w", transport.ErrorKind(err), err)
		}
		printControl(ctx.App.Writer, f)
		return nil
	},
}

func printFrame(w io.Writer, f *mt.Frame) {
	cmd := f.Command()
	sub := cmd.Subsystem().String()
	if !cmd.KnownSubsystem() {
		sub = fmt.Sprintf("%s (unassigned 0x%02X)", sub, cmd.SubsystemCode())
	}
	body, _ := f.Bytes()
	fmt.Fprintf(w, "kind       mt\n")
	fmt.Fprintf(w, "command    %s\n", cmd)
	fmt.Fprintf(w, "cmd0       0x%02X\n", cmd.Cmd0)
	fmt.Fprintf(w, "cmd1       0x%02X\n", cmd.Cmd1)
	fmt.Fprintf(w, "type       %s\n", cmd.Type())
	fmt.Fprintf(w, "subsystem  %s\n", sub)
	fmt.Fprintf(w, "name       %s\n", cmd.SubsystemName())
	fmt.Fprintf(w, "length     %d\n", f.Header.Length)
	fmt.Fprintf(w, "payload    %X\n", f.Payload)
	fmt.Fprintf(w, "fcs        0x%02X\n", mt.FCS(body))
}

func printControl(w io.Writer, f link.Frame) {
	fmt.Fprintf(w, "kind       link\n")
	fmt.Fprintf(w, "control    0x%02X\n", f.Control)
	fmt.Fprintf(w, "type       %s\n", f.Kind())
	switch f.Kind() {
	case link.KindAck, link.KindNak:
		fmt.Fprintf(w, "seq        %d\n", f.Seq())
	case link.KindData:
		dc := link.ParseDataControl(f.Control)
		fmt.Fprintf(w, "frame      %d\n", dc.FrameNumber)
		fmt.Fprintf(w, "ack        %d\n", dc.AckNumber)
		fmt.Fprintf(w, "retransmit %t\n", dc.Retransmit)
	}
	fmt.Fprintf(w, "payload    %X\n", f.Payload)
	fmt.Fprintf(w, "crc        0x%04X\n", f.CRC)
}

// frameFlags describe one MT frame to build.
var frameFlags = []cli.Flag{
	&cli.StringFlag{Name: "cmd0", Usage: "first command byte, hex", Required: true},
	&cli.StringFlag{Name: "cmd1", Usage: "second command byte, hex", Required: true},
	&cli.StringFlag{Name: "payload", Usage: "payload bytes, hex"},
}

func frameFromFlags(ctx *cli.Context) (mt.Command, []byte, error) {
	cmd0, err := parseByte("cmd0", ctx.String("cmd0"))
	if err != nil {
		return mt.Command{}, nil, err
	}
	cmd1, err := parseByte("cmd1", ctx.String("cmd1"))
	if err != nil {
		return mt.Command{}, nil, err
	}
	payload, err := mt.ParseHex(ctx.String("payload"))
	if err != nil {
		return mt.Command{}, nil, fmt.Errorf("--payload: %w", err)
	}
	if len(payload) > mt.MaxPayloadSize {
		return mt.Command{}, nil, fmt.Errorf("--payload: %w: %d bytes", mt.ErrInvalidLength, len(payload))
	}
	return mt.Command{Cmd0: cmd0, Cmd1: cmd1}, payload, nil
}

var encodeCmd = &cli.Command{
	Name:  "encode",
	Usage: "build an MT envelope and print it as hex",
	Flags: frameFlags,
	Action: func(ctx *cli.Context) error {
		cmd, payload, err := frameFromFlags(ctx)
		if err != nil {
			return err
		}
		raw, err := mt.Envelope(cmd, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%X\n", raw)
		return nil
	},
}

var ackCmd = &cli.Command{
	Name:      "ack",
	Usage:     "build a link ACK (or NAK) control frame",
	ArgsUsage: "<seq>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "nak", Usage: "build a NAK instead"},
	},
	Action: func(ctx *cli.Context) error {
		seq, err := strconv.ParseUint(ctx.Args().First(), 10, 8)
		if err != nil {
			return fmt.Errorf("ack: sequence %q: %w", ctx.Args().First(), err)
		}
		control := link.AckControl(uint8(seq))
		if ctx.Bool("nak") {
			control = link.NakControl(uint8(seq))
		}
		fmt.Fprintf(ctx.App.Writer, "%X\n", link.ControlFrame(control, nil))
		return nil
	},
}

var crcCmd = &cli.Command{
	Name:      "crc",
	Usage:     "print the XOR FCS and the link CRC of raw bytes",
	ArgsUsage: "<hex>",
	Action: func(ctx *cli.Context) error {
		data, err := hexArgs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "fcs        0x%02X\n", mt.FCS(data))
		fmt.Fprintf(ctx.App.Writer, "crc16      0x%04X\n", link.CRC(data))
		return nil
	},
}
