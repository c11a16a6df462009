package connmgr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

const (
	maxChunkBytes  = 4 * 1024
	chunkQueueSize = 64
)

// streamLines reads newline-delimited chunks from rc until EOF, a read error,
// or ctx cancellation, then closes rc and the returned channel. Delivery
// blocks when the consumer falls behind; the kernel socket buffer is the
// only queue beyond chunkQueueSize.
func streamLines(ctx context.Context, rc io.ReadCloser) <-chan string {
	out := make(chan string, chunkQueueSize)
	var closeOnce sync.Once
	closeRC := func() { closeOnce.Do(func() { _ = rc.Close() }) }

	stop := context.AfterFunc(ctx, closeRC)
	go func() {
		defer close(out)
		defer stop()
		defer closeRC()

		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 0, 256), maxChunkBytes)
		sc.Split(scanChunks)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case out <- string(line):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// scanChunks splits on '\n' or '\r'; the sensor firmware is not consistent
// about line endings. A run of maxChunkBytes without a delimiter is emitted
// as one chunk so noise never ends the stream.
func scanChunks(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF || len(data) >= maxChunkBytes {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// links tracks open per-address streams for a transport.
type links struct {
	mu         sync.Mutex
	open       map[string]io.ReadCloser
	subscribed map[string]bool
}

func newLinks() *links {
	return &links{open: make(map[string]io.ReadCloser), subscribed: make(map[string]bool)}
}

func (l *links) has(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[addr]
	return ok
}

func (l *links) add(addr string, rc io.ReadCloser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.open[addr]; ok {
		_ = old.Close()
	}
	l.open[addr] = rc
	delete(l.subscribed, addr)
}

func (l *links) subscribe(ctx context.Context, addr string) (<-chan string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rc, ok := l.open[addr]
	if !ok {
		return nil, fmt.Errorf("connmgr: %s is not connected", addr)
	}
	if l.subscribed[addr] {
		return nil, fmt.Errorf("connmgr: %s already has a subscriber", addr)
	}
	l.subscribed[addr] = true
	return streamLines(ctx, rc), nil
}

// remove closes and forgets addr. It reports whether addr was open.
func (l *links) remove(addr string) bool {
	l.mu.Lock()
	rc, ok := l.open[addr]
	delete(l.open, addr)
	delete(l.subscribed, addr)
	l.mu.Unlock()
	if ok {
		_ = rc.Close()
	}
	return ok
}

func (l *links) closeAll() {
	l.mu.Lock()
	open := l.open
	l.open = make(map[string]io.ReadCloser)
	l.subscribed = make(map[string]bool)
	l.mu.Unlock()
	for _, rc := range open {
		_ = rc.Close()
	}
}
