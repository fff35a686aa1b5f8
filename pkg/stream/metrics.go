package stream

import "io"

// Metrics observes the stream server.
type Metrics interface {
	// RecordStreamOpened counts a stream. kind is "range" or "full".
	RecordStreamOpened(kind, resolution string)

	// RecordBytesServed adds bytes handed to a client
	RecordBytesServed(bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordStreamOpened(string, string) {}
func (noopMetrics) RecordBytesServed(int64)           {}

// countingReadCloser reports the bytes read when closed
type countingReadCloser struct {
	io.ReadCloser
	metrics Metrics
	n       int64
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	err := c.ReadCloser.Close()
	if c.n > 0 {
		c.metrics.RecordBytesServed(c.n)
		c.n = 0
	}
	return err
}
