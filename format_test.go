package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		name     string
		cents    int64
		currency string
		want     string
	}{
		{"whole", 4000, "USD", "40.00 USD"},
		{"fraction", 1299, "USD", "12.99 USD"},
		{"sub-unit only", 5, "EUR", "0.05 EUR"},
		{"zero", 0, "USD", "0.00 USD"},
		{"negative", -1299, "USD", "-12.99 USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatCents(tt.cents, tt.currency))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}))
	})
}

func TestFormatUnixNano(t *testing.T) {
	assert.Equal(t, "-", formatUnixNano(0))

	ns := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC).UnixNano()
	assert.Contains(t, formatUnixNano(ns), "2020")
}

func TestPrintAlignedTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "VENDOR", "TOTAL"}
	rows := [][]string{
		{"a1", "Some Hardware Store", "129.99 USD"},
		{"b2", "Cafe", "4.50 USD"},
	}

	printAlignedTable(&buf, headers, rows)

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	assert.Len(t, lines, 3)

	// Columns line up: TOTAL starts at the same offset everywhere.
	offset := bytes.Index(lines[0], []byte("TOTAL"))
	assert.Equal(t, offset, bytes.Index(lines[1], []byte("129.99")))
	assert.Equal(t, offset, bytes.Index(lines[2], []byte("4.50")))

	// No trailing padding.
	for _, line := range lines {
		assert.Equal(t, string(line), string(bytes.TrimRight(line, " ")))
	}
}

func TestPrintTableTabSeparatedWhenPiped(t *testing.T) {
	// Under `go test`, stdout is a pipe, so printTable picks the
	// script-friendly form.
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "B"}, [][]string{{"1", "2"}})

	assert.Equal(t, "A\tB\n1\t2\n", buf.String())
}
