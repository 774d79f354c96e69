// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bagextract defines the logic for the "bagextract" tool.
//
// bagextract writes each message on one topic of a bag to its own file in an
// output directory. Payloads are written raw as "<timestamp>.cdr", or, with
// --decode, as a YAML field dump "<timestamp>.yaml" when the message type is
// in the standard catalog.
package bagextract

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/cdr"
	"github.com/danjacques/gorosbag/cdr/msgs"
	"github.com/danjacques/gorosbag/support/fmtutil"
	"github.com/danjacques/gorosbag/support/logging"
	"github.com/danjacques/gorosbag/tools/toolcfg"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Main is the main entry point.
func Main() {
	toolcfg.Exit("bagextract", Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run runs bagextract with args, writing its report to stdout and logs to
// stderr.
func Run(args []string, stdout, stderr io.Writer) error {
	t := toolcfg.New("bagextract", "<bag> <topic> <outdir>", false)
	t.SetOutput(stderr)
	decode := t.Flags.Bool("decode", false, "Write decoded YAML instead of raw payloads.")
	if err := t.Parse(args); err != nil {
		return err
	}
	pos, err := t.ExpectArgs(3)
	if err != nil {
		return err
	}
	path, topic, outDir := pos[0], pos[1], pos[2]

	log := t.Logger(stderr)
	cfg, err := t.Config(log)
	if err != nil {
		return err
	}
	r, err := cfg.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var conn *bag.Connection
	for _, ti := range r.Topics() {
		if ti.Topic == topic {
			c := ti.Connection
			conn = &c
			break
		}
	}
	if conn == nil {
		return errors.Wrapf(toolcfg.ErrUsage, "topic %q is not in %q", topic, path)
	}

	x := extractor{
		log:    log,
		outDir: outDir,
		names:  make(map[int64]int),
	}
	if *decode {
		reg := msgs.NewRegistry()
		if _, ok := reg.Lookup(conn.MessageType); ok {
			x.reg, x.msgType = reg, conn.MessageType
		} else {
			log.Warnf("Type %q is not in the catalog; writing raw payloads.", conn.MessageType)
		}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	c, err := r.Messages(bag.Filter{}.WithTopics(topic))
	if err != nil {
		return err
	}
	defer c.Close()

	for {
		msg, err := c.Next()
		switch err {
		case nil:
		case io.EOF:
			_, err := fmt.Fprintf(stdout, "Extracted %d message(s) from %s to %s (%d skipped).\n",
				x.written, topic, outDir, x.skipped)
			return err
		default:
			x.skipped++
			log.Warnf("Skipping unreadable item: %s", err)
			continue
		}

		if err := x.extract(msg); err != nil {
			return err
		}
	}
}

type extractor struct {
	log     logging.L
	outDir  string
	reg     *cdr.Registry
	msgType string

	// names counts the files written per timestamp.
	names map[int64]int

	written int
	skipped int
}

func (x *extractor) fileName(ts int64, ext string) string {
	n := x.names[ts]
	x.names[ts]++
	if n == 0 {
		return fmt.Sprintf("%d%s", ts, ext)
	}
	return fmt.Sprintf("%d_%d%s", ts, n, ext)
}

func (x *extractor) extract(msg *bag.Message) error {
	data, ext := msg.Data, ".cdr"
	if x.reg != nil {
		v, err := x.reg.Decode(x.msgType, msg.Data)
		if err != nil {
			x.log.Warnf("Could not decode message at %d, writing raw payload: %s", msg.Timestamp, err)
			x.log.Debugf("Payload:\n%s", fmtutil.Hex(msg.Data))
		} else {
			if data, err = yaml.Marshal(map[string]interface{}(v)); err != nil {
				return errors.Wrapf(err, "formatting message at %d", msg.Timestamp)
			}
			ext = ".yaml"
		}
	}

	name := filepath.Join(x.outDir, x.fileName(msg.Timestamp, ext))
	if err := ioutil.WriteFile(name, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %q", name)
	}
	x.written++
	return nil
}
