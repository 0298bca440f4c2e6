package progress

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReaderReportsAtIntervalAndEOF(t *testing.T) {
	var reports []int64

	pr := NewReader(strings.NewReader(strings.Repeat("x", 25)), 25, 10, func(written, total int64) {
		assert.Equal(t, int64(25), total)

		reports = append(reports, written)
	})

	buf := make([]byte, 5)

	for {
		_, err := pr.Read(buf)
		if err == io.EOF {
			break
		}

		require.NoError(t, err)
	}

	assert.Equal(t, []int64{10, 20, 25}, reports)
	assert.Equal(t, int64(25), pr.Written())
}

func TestProgressReaderNoDuplicateFinalReport(t *testing.T) {
	var reports []int64

	pr := NewReader(strings.NewReader(strings.Repeat("x", 20)), -1, 10, func(written, _ int64) {
		reports = append(reports, written)
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.Equal(t, int64(20), reports[len(reports)-1])

	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
}

func TestProgressReaderEmptyBody(t *testing.T) {
	var reports []int64

	pr := NewReader(strings.NewReader(""), 0, 10, func(written, _ int64) {
		reports = append(reports, written)
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.Equal(t, []int64{0}, reports)
}
