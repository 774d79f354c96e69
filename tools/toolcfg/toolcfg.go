// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package toolcfg holds the configuration shared by the bag command line
// tools.
//
// Settings are layered: an optional TOML file named by --config, then
// GOROSBAG_* environment variables, then command line flags. Keys match flag
// names, so "--compression-mode" is "compression-mode" in the file and
// GOROSBAG_COMPRESSION_MODE in the environment.
package toolcfg

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/cdr/msgs"
	"github.com/danjacques/gorosbag/rosbag"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "GOROSBAG_"

// T is a tool's configuration.
type T struct {
	// Flags is the tool's flag set. Tools add their own flags before Parse.
	Flags *flag.FlagSet

	ko          *koanf.Koanf
	out         io.Writer
	writeFlags  bool
	storage     bag.StorageFlag
	mode        bag.CompressionModeFlag
	definitions bool
}

// New creates the configuration for the tool name. If writeFlags is true,
// flags controlling written bags are registered.
func New(name, usage string, writeFlags bool) *T {
	t := T{
		Flags:      flag.NewFlagSet(name, flag.ContinueOnError),
		ko:         koanf.New("."),
		out:        os.Stderr,
		writeFlags: writeFlags,
		storage:    bag.StorageFlag(rosbag.DefaultStorage),
	}

	f := t.Flags
	f.Usage = func() {
		fmt.Fprintf(t.out, "Usage: %s %s\n\n%s", name, usage, f.FlagUsages())
	}
	f.String("config", "", "Path to a TOML config file to load.")
	f.BoolP("verbose", "v", false, "Emit debug logging.")
	f.String("temp-dir", "", "Directory used for staging files.")

	if writeFlags {
		f.Var(&t.storage, "storage", "Storage backend to write. Options are: "+bag.StorageFlagValues())
		f.Var(&t.mode, "compression-mode", "Compression mode to write. Options are: "+bag.CompressionModeFlagValues())
		f.Int("compression-level", 0, "zstd compression level. Zero selects the default.")
		f.Int("chunk-size", 0, "MCAP chunk size, in bytes.")
		f.Int64("max-file-size", 0, "If positive, split storage files at this many bytes.")
		f.String("ros-distro", "", "ROS distribution recorded in written bags.")
	}
	return &t
}

// SetOutput directs usage and flag errors to w.
func (t *T) SetOutput(w io.Writer) {
	t.out = w
	t.Flags.SetOutput(w)
}

// Parse parses args and loads the layered configuration.
//
// If help was requested, Parse returns flag.ErrHelp.
func (t *T) Parse(args []string) error {
	if err := t.Flags.Parse(args); err != nil {
		return err
	}

	if path, _ := t.Flags.GetString("config"); path != "" {
		if err := t.ko.Load(file.Provider(path), toml.Parser()); err != nil {
			return errors.Wrapf(err, "loading config %q", path)
		}
	}

	err := t.ko.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", "-", -1)
	}), nil)
	if err != nil {
		return errors.Wrap(err, "loading environment")
	}

	// Flags override only when set, or when no other layer has the key.
	if err := t.ko.Load(posflag.Provider(t.Flags, ".", t.ko), nil); err != nil {
		return errors.Wrap(err, "loading flags")
	}
	return nil
}

// Args returns the positional arguments.
func (t *T) Args() []string { return t.Flags.Args() }

// Verbose returns true if debug logging was requested.
func (t *T) Verbose() bool { return t.ko.Bool("verbose") }

// Logger returns a logger writing to w.
func (t *T) Logger(w io.Writer) logging.L { return logging.New(w, t.Verbose()) }

// UseDefinitions makes Config attach the standard message catalog, so that
// written connections carry their message definitions.
func (t *T) UseDefinitions() { t.definitions = true }

// Config builds a rosbag.Config from the loaded settings, logging to log.
func (t *T) Config(log logging.L) (*rosbag.Config, error) {
	cfg := rosbag.Config{
		TempDir: t.ko.String("temp-dir"),
		Logger:  log,
	}
	if t.definitions {
		cfg.Definitions = msgs.NewRegistry()
	}
	if !t.writeFlags {
		return &cfg, nil
	}

	var err error
	if cfg.Storage, err = bag.ParseStorageID(t.ko.String("storage")); err != nil {
		return nil, err
	}
	if cfg.CompressionMode, err = bag.ParseCompressionMode(t.ko.String("compression-mode")); err != nil {
		return nil, err
	}
	cfg.CompressionLevel = t.ko.Int("compression-level")
	cfg.ChunkSize = t.ko.Int("chunk-size")
	cfg.MaxFileSize = t.ko.Int64("max-file-size")
	cfg.ROSDistro = t.ko.String("ros-distro")
	return &cfg, nil
}

// Exit reports the result of the tool name's Run and exits.
func Exit(name string, err error) {
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.Is(err, ErrUsage):
		fmt.Fprintf(os.Stderr, "%s: %s (see --help)\n", name, err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, err)
		os.Exit(1)
	}
}

// ErrUsage marks errors in how a tool was invoked.
var ErrUsage = errors.New("invalid usage")

// ExpectArgs returns the positional arguments, which must number n.
func (t *T) ExpectArgs(n int) ([]string, error) {
	args := t.Args()
	if len(args) != n {
		return nil, errors.Wrapf(ErrUsage, "expected %d argument(s), got %d", n, len(args))
	}
	return args, nil
}
