package progress

import (
	"errors"
	"io"
)

// ProgressReader wraps an io.Reader and reports progress via a callback.
type ProgressReader struct {
	Reader     io.Reader
	Total      int64 // expected bytes, -1 or 0 if unknown
	OnProgress func(written int64, total int64)

	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
	reportedEOF    bool
}

// NewReader reports after every interval bytes read and once more at EOF.
func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *ProgressReader {
	if interval <= 0 {
		interval = 1
	}

	return &ProgressReader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// Written returns the number of bytes read so far.
func (pr *ProgressReader) Written() int64 {
	return pr.totalRead
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval {
			pr.report()
		}
	}

	if errors.Is(err, io.EOF) && !pr.reportedEOF {
		pr.reportedEOF = true

		if pr.lastReport > 0 || pr.totalRead == 0 {
			pr.report()
		}
	}

	return n, err
}

func (pr *ProgressReader) report() {
	pr.lastReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}
}
