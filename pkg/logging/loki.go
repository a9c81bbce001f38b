package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	lokiBufferSize   = 1024
	lokiBatchSize    = 100
	lokiFlushEvery   = 1 * time.Second
	lokiPushTimeout  = 5 * time.Second
	lokiCloseTimeout = 5 * time.Second
)

type lokiEntry struct {
	ts    time.Time
	level string
	line  string
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

// lokiPusher is an io.Writer fed one formatted record per Write. Lines are
// batched and pushed from a background goroutine; Write never blocks and
// drops lines when the buffer is full.
type lokiPusher struct {
	url    string
	labels map[string]string
	client *http.Client
	errLog *slog.Logger

	entries chan lokiEntry
	dropped atomic.Uint64

	flushEvery time.Duration
	batchSize  int

	closeOnce sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func newLokiPusher(rawURL string, tags map[string]string, client *http.Client, errLog *slog.Logger) (*lokiPusher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid loki url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid loki url %q: scheme must be http or https", rawURL)
	}
	if client == nil {
		client = &http.Client{Timeout: lokiPushTimeout}
	}

	labels := make(map[string]string, len(tags))
	for k, v := range tags {
		labels[k] = v
	}

	p := &lokiPusher{
		url:        rawURL,
		labels:     labels,
		client:     client,
		errLog:     errLog,
		entries:    make(chan lokiEntry, lokiBufferSize),
		flushEvery: lokiFlushEvery,
		batchSize:  lokiBatchSize,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Write queues one log line
func (p *lokiPusher) Write(b []byte) (int, error) {
	line := strings.TrimRight(string(b), "\n")
	e := lokiEntry{ts: time.Now(), level: levelFromLine(line), line: line}

	select {
	case p.entries <- e:
	default:
		p.dropped.Add(1)
	}
	return len(b), nil
}

// Dropped returns the number of lines discarded because the buffer was full
func (p *lokiPusher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes queued lines and stops the pusher
func (p *lokiPusher) Close() error {
	p.closeOnce.Do(func() { close(p.stopCh) })

	var err error
	select {
	case <-p.done:
	case <-time.After(lokiCloseTimeout):
		err = fmt.Errorf("loki pusher: flush timed out")
	}

	if n := p.Dropped(); n > 0 {
		p.errLog.Warn("Loki buffer overflowed, log lines dropped", "dropped", n)
	}
	return err
}

func (p *lokiPusher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	batch := make([]lokiEntry, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.push(batch); err != nil {
			p.errLog.Warn("Loki push failed", "error", err, "lines", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-p.entries:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.stopCh:
			for {
				select {
				case e := <-p.entries:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (p *lokiPusher) push(batch []lokiEntry) error {
	body, err := p.encode(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), lokiPushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("loki returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// encode groups entries into one stream per level and gzips the JSON body.
func (p *lokiPusher) encode(batch []lokiEntry) ([]byte, error) {
	byLevel := make(map[string]*lokiStream)
	var order []string
	for _, e := range batch {
		s, ok := byLevel[e.level]
		if !ok {
			labels := make(map[string]string, len(p.labels)+1)
			for k, v := range p.labels {
				labels[k] = v
			}
			labels["level"] = e.level
			s = &lokiStream{Stream: labels}
			byLevel[e.level] = s
			order = append(order, e.level)
		}
		s.Values = append(s.Values, [2]string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line})
	}

	payload := lokiPush{Streams: make([]lokiStream, 0, len(order))}
	for _, lvl := range order {
		payload.Streams = append(payload.Streams, *byLevel[lvl])
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// levelFromLine extracts the level from a slog text line ("... level=WARN ...").
func levelFromLine(line string) string {
	i := strings.Index(line, "level=")
	if i < 0 {
		return "unknown"
	}
	rest := line[i+len("level="):]
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return "unknown"
	}
	return strings.ToLower(rest)
}
