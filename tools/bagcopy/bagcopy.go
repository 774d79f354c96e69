// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bagcopy defines the logic for the "bagcopy" tool.
//
// bagcopy copies the messages of a bag that pass a topic and time filter into
// a new bag, optionally changing its storage backend and compression. The new
// bag only appears once it is complete.
package bagcopy

import (
	"fmt"
	"io"
	"os"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/rosbag"
	"github.com/danjacques/gorosbag/tools/toolcfg"

	"github.com/pkg/errors"
)

// Main is the main entry point.
func Main() {
	toolcfg.Exit("bagcopy", Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run runs bagcopy with args, writing its report to stdout and logs to
// stderr.
func Run(args []string, stdout, stderr io.Writer) error {
	t := toolcfg.New("bagcopy", "<in> <out>", true)
	f := t.Flags
	t.SetOutput(stderr)
	topics := f.StringSlice("topics", nil, "Copy only these topics.")
	exclude := f.StringSlice("exclude", nil, "Do not copy these topics.")
	start := f.Int64("start", 0, "Copy messages at or after this timestamp, in nanoseconds.")
	end := f.Int64("end", 0, "Copy messages at or before this timestamp, in nanoseconds.")
	listTopics := f.Bool("list-topics", false, "List the input's topics and exit.")
	if err := t.Parse(args); err != nil {
		return err
	}

	cfg, err := t.Config(t.Logger(stderr))
	if err != nil {
		return err
	}

	if *listTopics {
		pos, err := t.ExpectArgs(1)
		if err != nil {
			return err
		}
		return printTopics(stdout, cfg, pos[0])
	}

	pos, err := t.ExpectArgs(2)
	if err != nil {
		return err
	}
	src, dest := pos[0], pos[1]

	var filter bag.Filter
	if f.Changed("start") {
		filter = filter.WithStart(*start)
	}
	if f.Changed("end") {
		filter = filter.WithEnd(*end)
	}
	if len(*topics) > 0 || len(*exclude) > 0 {
		selected, err := selectTopics(cfg, src, *topics, *exclude)
		if err != nil {
			return err
		}
		filter = filter.WithTopics(selected...)
	}

	res, err := cfg.Copy(src, dest, filter)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "Copied %d message(s) on %d topic(s) to %s (%d skipped).\n",
		res.Metadata.MessageCount, len(res.Metadata.Topics), dest, res.Skipped)
	return err
}

// selectTopics returns the topics of the bag at path that are in include
// (all topics if include is empty) and not in exclude.
//
// Naming a topic that the bag lacks, or selecting nothing, is a usage error.
func selectTopics(cfg *rosbag.Config, path string, include, exclude []string) ([]string, error) {
	r, err := cfg.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	known := make(map[string]struct{})
	for _, t := range r.Topics() {
		known[t.Topic] = struct{}{}
	}
	toSet := func(topics []string) (map[string]struct{}, error) {
		set := make(map[string]struct{}, len(topics))
		for _, t := range topics {
			if _, ok := known[t]; !ok {
				return nil, errors.Wrapf(toolcfg.ErrUsage, "topic %q is not in %q", t, path)
			}
			set[t] = struct{}{}
		}
		return set, nil
	}

	inc, err := toSet(include)
	if err != nil {
		return nil, err
	}
	exc, err := toSet(exclude)
	if err != nil {
		return nil, err
	}

	var selected []string
	for _, t := range r.Topics() {
		if _, ok := inc[t.Topic]; len(inc) > 0 && !ok {
			continue
		}
		if _, ok := exc[t.Topic]; ok {
			continue
		}
		selected = append(selected, t.Topic)
	}
	if len(selected) == 0 {
		return nil, errors.Wrap(toolcfg.ErrUsage, "no topics selected")
	}
	return selected, nil
}

func printTopics(w io.Writer, cfg *rosbag.Config, path string) error {
	r, err := cfg.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, t := range r.Topics() {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", t.Topic, t.MessageType, t.MessageCount); err != nil {
			return err
		}
	}
	return nil
}
