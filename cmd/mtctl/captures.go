package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"zigstack/internal/link"
	"zigstack/internal/mt"
	"zigstack/internal/session"
	"zigstack/internal/store"
)

var capturesCmd = &cli.Command{
	Name:  "captures",
	Usage: "list the newest entries of a capture journal (zigstack must be stopped)",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "db", Value: "zigstack.db", Usage: "journal path"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "entries to list"},
		&cli.Uint64Flag{Name: "before", Usage: "only entries with a smaller id"},
	},
	Action: func(ctx *cli.Context) error {
		db, err := store.NewBoltStore(ctx.String("db"))
		if err != nil {
			return err
		}
		defer db.Close()

		w := ctx.App.Writer
		n, err := db.Count()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s captures", humanize.Comma(int64(n)))
		var v session.VersionInfo
		switch err := db.GetMeta(store.MetaVersion, &v); {
		case err == nil:
			fmt.Fprintf(w, ", coprocessor %s", v)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		fmt.Fprintln(w)

		list, err := db.List(ctx.Int("limit"), ctx.Uint64("before"))
		if err != nil {
			return err
		}
		now := time.Now()
		for _, c := range list {
			printCapture(w, c, now)
		}
		return nil
	},
}

func printCapture(w io.Writer, c *store.Capture, now time.Time) {
	var what string
	switch c.Kind {
	case store.KindMonitor:
		what = mt.Command{Cmd0: c.Cmd0, Cmd1: c.Cmd1}.String()
	case store.KindControl:
		if f, err := link.DecodeControlFrame(c.Raw); err == nil {
			what = fmt.Sprintf("%s seq=%d", f.Kind(), f.Seq())
		}
	case store.KindError:
		what = c.Error
	}
	fmt.Fprintf(w, "%6d  %-16s %-2s %-7s %6s  %-24s %X\n",
		c.ID, humanize.RelTime(c.Time, now, "ago", "from now"), c.Direction, c.Kind,
		humanize.Bytes(uint64(len(c.Raw))), what, c.Raw)
}
