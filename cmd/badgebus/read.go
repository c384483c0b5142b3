package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

// runRead 把十六进制字节喂给流式解码器，逐行打印解出的帧
//
//	badgebus read 55,55,42,42,80,01,00,2F,BA
//	tail -f capture.txt | badgebus read --stdin
func runRead(args []string, e env) error {
	fs := newFlagSet("read", e)
	stdin := fs.Bool("stdin", false, "also read hex text line by line from standard input")
	stats := fs.Bool("stats", false, "print decoder statistics when done")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 && !*stdin {
		return usageErr(fs, e.stderr, "no input bytes")
	}

	d := badge.NewStreamDecoder()
	feed := func(text string) error {
		data, err := badge.ParseHexBytes(text)
		if err != nil {
			return err
		}
		for _, f := range d.Feed(data) {
			fmt.Fprintln(e.stdout, f)
		}
		return nil
	}

	if err := feed(strings.Join(fs.Args(), " ")); err != nil {
		return err
	}
	if *stdin {
		sc := bufio.NewScanner(e.stdin)
		for sc.Scan() {
			if err := feed(sc.Text()); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	if *stats {
		st := d.Stats()
		fmt.Fprintf(e.stderr, "frames=%d decode_errors=%d dropped_bytes=%d rejected_requests=%d state=%s buffered=%d\n",
			st.Frames, st.DecodeErrors, st.DroppedBytes, st.RejectedRequests, d.State(), d.Buffered())
	}
	return nil
}
