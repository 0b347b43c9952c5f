package binlog

import (
	"context"
	"io"
	"os"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// ReadResult is one chunk produced by a DiskReader.
type ReadResult struct {
	Bytes           []byte
	LastDataVersion uint64
	Err             error
}

// DiskReader streams whole, cleanly-parseable records from a
// (index, offset) position in dir's binlog segments into a bounded
// channel of ReadResult, for a slave catching up from disk.
type DiskReader struct {
	dir       string
	index     uint32
	offset    int64
	chunkSize int
	ringSize  int
}

// NewDiskReader returns a reader that will start at (index, offset)
// when Start is called. A ReadResult stops taking further records once
// it holds chunkSize packed bytes or more, so it may exceed chunkSize
// by up to one record; ringSize bounds how many ReadResults may be
// buffered ahead of the consumer.
func NewDiskReader(dir string, index uint32, offset int64, chunkSize, ringSize int) *DiskReader {
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	if ringSize <= 0 {
		ringSize = 4
	}
	return &DiskReader{dir: dir, index: index, offset: offset, chunkSize: chunkSize, ringSize: ringSize}
}

// Start begins streaming in a background goroutine and returns the
// channel of results. The channel is closed after a terminal result
// (EOF or error) or when ctx is canceled.
func (r *DiskReader) Start(ctx context.Context) <-chan ReadResult {
	out := make(chan ReadResult, r.ringSize)
	go r.run(ctx, out)
	return out
}

func (r *DiskReader) run(ctx context.Context, out chan<- ReadResult) {
	defer close(out)

	index := r.index
	offset := r.offset
	var lastDV uint64

	for {
		path := segmentPath(r.dir, index)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: fdirerr.New(fdirerr.ENOENT, "binlog: segment %q not found", path)})
			return
		}
		if err != nil {
			r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: err})
			return
		}

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: err})
			return
		}

		tail, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: err})
			return
		}

		if len(tail) == 0 {
			// No more data in this segment. Try the next one; if it
			// doesn't exist yet, signal EOF; the caller treats ENOENT
			// as having caught up to the live tail.
			if _, statErr := os.Stat(segmentPath(r.dir, index+1)); statErr != nil {
				r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: fdirerr.New(fdirerr.ENOENT, "binlog: caught up at segment %d offset %d", index, offset)})
				return
			}
			index++
			offset = 0
			continue
		}

		pos := 0
		for pos < len(tail) && pos < r.chunkSize {
			rec, end, err := Unpack(tail[pos:])
			if err != nil {
				// Torn tail: stop before the partial record. The next
				// pass rereads from here; if that pass still finds no
				// whole record, the stream ends with EAGAIN below.
				break
			}
			lastDV = rec.DataVersion
			pos += end
		}
		if pos == 0 {
			r.emit(ctx, out, ReadResult{LastDataVersion: lastDV, Err: fdirerr.New(fdirerr.EAGAIN, "binlog: torn tail at segment %d offset %d", index, offset)})
			return
		}

		chunk := tail[:pos]
		offset += int64(pos)
		if !r.emit(ctx, out, ReadResult{Bytes: chunk, LastDataVersion: lastDV}) {
			return
		}
	}
}

func (r *DiskReader) emit(ctx context.Context, out chan<- ReadResult, res ReadResult) bool {
	select {
	case out <- res:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}
