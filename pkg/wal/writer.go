package wal

import (
	"context"
	"time"

	"github.com/bobboyms/kvdb/internal/vfs"
	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/telemetry"
)

// Wal is a single append-only segment file driven by one mailbox
// goroutine; the goroutine is the only thing that ever touches the file.
// Durability is group commit: the first pending append arms a single
// timer, everything that arrives before it fires rides the same
// write-and-fsync, and every caller in the batch resolves together.
type Wal struct {
	file    *vfs.File
	opts    Options
	metrics *telemetry.Metrics

	cmds     chan appendCmd
	flushReq chan chan error
	closing  chan struct{}
	stopped  chan struct{}
}

type appendCmd struct {
	entry  *Entry
	result chan error
}

// Open opens (or creates) the WAL segment under dir and starts its
// mailbox goroutine.
func Open(fsys *vfs.FS, dir string, opts Options, metrics *telemetry.Metrics) (*Wal, error) {
	if err := fsys.MkdirAll(dir); err != nil {
		return nil, err
	}
	path := fsys.PathJoin(dir, opts.FileName)

	f, err := fsys.Open(path, vfs.Options{Write: true, Append: true})
	if errs.Is(err, errs.ErrNotFound) {
		f, err = fsys.Open(path, vfs.Options{Write: true, Create: true, Append: true})
	}
	if err != nil {
		return nil, errs.Wrap(err, "open wal segment")
	}

	w := &Wal{
		file:     f,
		opts:     opts,
		metrics:  metrics,
		cmds:     make(chan appendCmd),
		flushReq: make(chan chan error),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Append enqueues e for the next group-commit batch and blocks until that
// batch has been flushed (or ctx is done). The returned error, when
// non-nil, is shared by every other append in the same batch.
func (w *Wal) Append(ctx context.Context, e *Entry) error {
	result := make(chan error, 1)
	select {
	case w.cmds <- appendCmd{entry: e, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return errs.Wrap(errs.ErrClosed, "wal is closed")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces an early group-commit of whatever is pending, without
// waiting for the batcher's timer. Dump uses it so a snapshot never
// races an in-flight batch; ordinary callers never need it, since
// Append already blocks until its entry is durable.
func (w *Wal) Flush(ctx context.Context) error {
	result := make(chan error, 1)
	select {
	case w.flushReq <- result:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return errs.Wrap(errs.ErrClosed, "wal is closed")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains one final flush and closes the segment file. It is safe
// to call once; further Append calls fail with errs.ErrClosed.
func (w *Wal) Close() error {
	close(w.closing)
	<-w.stopped
	return w.file.Close()
}

func (w *Wal) run() {
	defer close(w.stopped)

	var pending []appendCmd
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.closing:
			w.flush(pending)
			if timer != nil {
				timer.Stop()
			}
			return
		case cmd := <-w.cmds:
			pending = append(pending, cmd)
			if timer == nil {
				timer = time.NewTimer(w.opts.CommitDelay)
				timerC = timer.C
			}
		case <-timerC:
			w.flush(pending)
			pending = nil
			timer = nil
			timerC = nil
		case result := <-w.flushReq:
			w.flush(pending)
			pending = nil
			if timer != nil {
				timer.Stop()
			}
			timer = nil
			timerC = nil
			result <- nil
		}
	}
}

func (w *Wal) flush(pending []appendCmd) {
	if len(pending) == 0 {
		return
	}
	start := time.Now()

	buf := acquireBuffer()
	defer releaseBuffer(buf)
	for _, cmd := range pending {
		*buf = append(*buf, cmd.entry.Encode()...)
	}

	_, writeErr := w.file.Write(*buf)
	flushErr := writeErr
	if flushErr == nil {
		flushErr = w.file.Flush()
	}

	if w.metrics != nil {
		w.metrics.WalFlushLatency.Observe(time.Since(start).Seconds())
		w.metrics.WalBatchSize.Observe(float64(len(pending)))
	}

	var resolved error
	if flushErr != nil {
		if w.metrics != nil {
			w.metrics.WalFlushFailures.Inc()
		}
		resolved = &errs.DurabilityError{Cause: flushErr}
	}

	for _, cmd := range pending {
		cmd.result <- resolved // buffered, never blocks
	}
}
