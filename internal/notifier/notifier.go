package notifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Kind classifies a notification.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Message is what the orchestrator hands to the outside world.
type Message struct {
	Kind            Kind
	Title           string
	Body            string
	ProgressPercent int
}

// Bridge delivers messages. Implementations must be safe for concurrent use.
type Bridge interface {
	Notify(ctx context.Context, msg Message) error
}

// Progress carries the figures a progress message is rendered from.
type Progress struct {
	Bytes      int64
	TotalBytes int64
	Items      int
	ItemCount  int
	Fraction   float64
}

// ProgressMessage renders "1.2 GB / 3.4 GB (35%)", or "2 / 8 files (25%)"
// when no byte total is known.
func ProgressMessage(appName string, p Progress) Message {
	percent := Percent(p.Fraction)

	var body string
	if p.TotalBytes > 0 {
		body = fmt.Sprintf("%s / %s (%d%%)", humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.TotalBytes)), percent)
	} else {
		body = fmt.Sprintf("%d / %d files (%d%%)", p.Items, p.ItemCount, percent)
	}

	return Message{
		Kind:            KindProgress,
		Title:           appName + " - Downloading Files",
		Body:            body,
		ProgressPercent: percent,
	}
}

func CompletedMessage(appName string) Message {
	return Message{
		Kind:            KindCompleted,
		Title:           appName + " - Downloads Complete",
		Body:            "All files have been downloaded successfully!",
		ProgressPercent: 100,
	}
}

func FailedMessage() Message {
	return Message{
		Kind:  KindFailed,
		Title: "Download Failed",
		Body:  "An error occurred during download. Please try again.",
	}
}

// Percent converts a fraction to a whole percentage, rounding down so 100
// is only reported at completion.
func Percent(fraction float64) int {
	return int(math.Floor(min(1, max(0, fraction)) * 100))
}

// Multi fans a message out to every bridge and joins their errors.
type Multi []Bridge

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error

	for _, b := range m {
		if err := b.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
