// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package baggen defines the logic for the "baggen" tool.
//
// baggen writes a synthetic bag with std_msgs Int32 and String topics and a
// geometry_msgs PoseStamped topic, one message per topic per step.
package baggen

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/danjacques/gorosbag/cdr"
	"github.com/danjacques/gorosbag/tools/toolcfg"
)

// Topics written by baggen.
const (
	Int32Topic  = "/counter"
	StringTopic = "/chatter"
	PoseTopic   = "/pose"
)

const (
	int32Type  = "std_msgs/msg/Int32"
	stringType = "std_msgs/msg/String"
	poseType   = "geometry_msgs/msg/PoseStamped"
)

// Main is the main entry point.
func Main() {
	toolcfg.Exit("baggen", Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run runs baggen with args, writing its report to stdout and logs to stderr.
func Run(args []string, stdout, stderr io.Writer) error {
	t := toolcfg.New("baggen", "<out>", true)
	t.SetOutput(stderr)
	count := t.Flags.Int("count", 10, "Number of steps to generate.")
	start := t.Flags.Int64("start", 1e18, "Timestamp of the first step, in nanoseconds.")
	interval := t.Flags.Int64("interval", 1e8, "Interval between steps, in nanoseconds.")
	t.UseDefinitions()
	if err := t.Parse(args); err != nil {
		return err
	}
	pos, err := t.ExpectArgs(1)
	if err != nil {
		return err
	}

	log := t.Logger(stderr)
	cfg, err := t.Config(log)
	if err != nil {
		return err
	}
	reg := cfg.Definitions

	w, err := cfg.Create(pos[0])
	if err != nil {
		return err
	}
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()
	w.SetCustomData("generator", "baggen")

	write := func(topic, msgType string, ts int64, v cdr.Struct) error {
		data, err := reg.Encode(msgType, v)
		if err != nil {
			return err
		}
		return w.Write(topic, msgType, ts, data)
	}

	for i := 0; i < *count; i++ {
		ts := *start + int64(i)*(*interval)
		if err := write(Int32Topic, int32Type, ts, cdr.Struct{"data": int32(i)}); err != nil {
			return err
		}
		if err := write(StringTopic, stringType, ts, cdr.Struct{"data": "message " + strconv.Itoa(i)}); err != nil {
			return err
		}
		if err := write(PoseTopic, poseType, ts, pose(i, ts)); err != nil {
			return err
		}
	}

	ww := w
	w = nil
	if err := ww.Close(); err != nil {
		return err
	}
	log.Infof("Generated %d message(s) in %q.", ww.NumMessages(), ww.Path())
	_, err = io.WriteString(stdout, ww.Path()+"\n")
	return err
}

// pose returns a pose tracing a unit circle, one radian per step.
func pose(i int, ts int64) cdr.Struct {
	theta := float64(i)
	return cdr.Struct{
		"header": cdr.Struct{
			"stamp": cdr.Struct{
				"sec":     int32(ts / 1e9),
				"nanosec": uint32(ts % 1e9),
			},
			"frame_id": "map",
		},
		"pose": cdr.Struct{
			"position": cdr.Struct{"x": math.Cos(theta), "y": math.Sin(theta)},
			"orientation": cdr.Struct{
				"z": math.Sin(theta / 2),
				"w": math.Cos(theta / 2),
			},
		},
	}
}
