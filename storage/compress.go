// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package storage

import (
	"bufio"
	"io"
	"os"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/support/bufferpool"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	// Large buffer size (4MB), good for streaming whole files.
	fileBufferSize = 1024 * 1024 * 4
)

// copyBuffers holds the buffers that whole files are streamed through.
var copyBuffers = bufferpool.Pool{Size: fileBufferSize}

// copyFile copies src to dst through a pooled buffer. The reader and writer
// are wrapped so that io.CopyBuffer cannot bypass the buffer.
func copyFile(dst io.Writer, src io.Reader) (int64, error) {
	buf := copyBuffers.Get()
	defer buf.Release()
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf.Bytes())
}

// Compressor compresses and decompresses independent zstd frames.
//
// Compressor is not safe for concurrent use. Encoder and decoder state is
// created on first use.
type Compressor struct {
	level int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCompressor returns a Compressor that encodes at the given zstd level.
// A level of zero selects the default.
func NewCompressor(level int) *Compressor {
	return &Compressor{level: level}
}

func encoderLevel(level int) zstd.EncoderLevel {
	if level <= 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

// Compress appends the compressed frame of src to dst.
func (c *Compressor) Compress(dst, src []byte) ([]byte, error) {
	if c.enc == nil {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(encoderLevel(c.level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd encoder")
		}
		c.enc = enc
	}
	return c.enc.EncodeAll(src, dst), nil
}

// Decompress appends the contents of the frame src to dst.
//
// A corrupt frame yields a bag.KindCompression error.
func (c *Compressor) Decompress(dst, src []byte) ([]byte, error) {
	if c.dec == nil {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd decoder")
		}
		c.dec = dec
	}

	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, bag.NewError(bag.KindCompression, "", errors.Wrap(err, "decompressing zstd frame"))
	}
	return out, nil
}

// Close releases the Compressor's resources.
func (c *Compressor) Close() {
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}

// fileWriter is a buffered zstd stream over a file.
type fileWriter struct {
	io.Writer

	closer io.Closer
	bw     *bufio.Writer
	zw     *zstd.Encoder
}

func newFileWriter(base io.WriteCloser, level int) (*fileWriter, error) {
	w := fileWriter{
		bw:     bufio.NewWriterSize(base, fileBufferSize),
		closer: base,
	}

	zw, err := zstd.NewWriter(w.bw, zstd.WithEncoderLevel(encoderLevel(level)))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd writer")
	}
	w.zw = zw
	w.Writer = zw
	return &w, nil
}

func (w *fileWriter) Close() (err error) {
	// Always close our underlying base.
	defer func() {
		closeErr := w.closer.Close()
		if err == nil {
			err = closeErr
		}
	}()

	if err = w.zw.Close(); err != nil {
		return
	}
	err = w.bw.Flush()
	return
}

// CompressFile writes the zstd-compressed contents of src to a new file at
// dest.
func CompressFile(src, dest string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	fd, err := os.Create(dest)
	if err != nil {
		return err
	}
	w, err := newFileWriter(fd, level)
	if err != nil {
		_ = fd.Close()
		return err
	}
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()

	if _, err := copyFile(w, in); err != nil {
		return errors.Wrap(err, "compressing file")
	}

	if err := w.Close(); err != nil {
		return err
	}
	w = nil // Don't double-close in defer.
	return nil
}

// DecompressFile writes the decompressed contents of the zstd file src to a
// new file at dest.
//
// A corrupt stream yields a bag.KindCompression error.
func DecompressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return bag.NewError(bag.KindCompression, src, err)
	}
	defer zr.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if out != nil {
			_ = out.Close()
		}
	}()

	if _, err := copyFile(out, zr); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return err
		}
		return bag.NewError(bag.KindCompression, src, errors.Wrap(err, "decompressing file"))
	}

	if err := out.Close(); err != nil {
		return err
	}
	out = nil // Don't double-close in defer.
	return nil
}
