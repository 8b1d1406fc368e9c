package protocol

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	truncatedStringEnd = " ..."
	minColumnWidth     = 4
	maxLength          = 40
	maxMultiLineLength = 500
)

// PrintTable writes columns and rows as a text table. Long values wrap onto
// extra lines within their column.
func PrintTable(w io.Writer, columns []string, rows [][]any) {
	columnSize := computeTableSize(columns, rows)

	PrintTableHeader(w, columns, columnSize)
	for _, values := range rows {
		PrintTableRow(w, columnSize, values)
	}
}

func PrintTableHeader(w io.Writer, columns []string, columnSize []int) {
	for i, aColumn := range columns {
		// pad with columnSize[j] spaces on the right rather than the left (left-justify the field)
		fmt.Fprintf(w, " %-*s ", columnSize[i], aColumn)
		if i != len(columns)-1 {
			fmt.Fprint(w, "|")
		}
	}
	fmt.Fprintf(w, "\n")

	// add horizontal border bellow the header row
	for i, size := range columnSize {
		fmt.Fprintf(w, "%s", strings.Repeat("-", size+2))
		if i != len(columnSize)-1 {
			fmt.Fprint(w, "+")
		}
	}
	fmt.Fprint(w, "\n")
}

func PrintTableRow(w io.Writer, columnSize []int, values []any) {
	lines := make([][]string, 0, 1)
	lines = append(lines, make([]string, len(columnSize)))
	for i, aValue := range values {
		if i >= len(columnSize) {
			break
		}
		for j, line := range splitStringIntoLines(formatValue(aValue), columnSize[i]) {
			if j >= len(lines) {
				lines = append(lines, make([]string, len(columnSize)))
			}
			lines[j][i] = line
		}
	}

	for _, aLine := range lines {
		for j, aCell := range aLine {
			fmt.Fprintf(w, " %-*s ", columnSize[j], aCell)
			if j != len(aLine)-1 {
				fmt.Fprint(w, "|")
			}
		}
		fmt.Fprintf(w, "\n")
	}
}

func formatValue(v any) string {
	var s string
	switch tv := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		s = string(tv)
	default:
		s = fmt.Sprint(tv)
	}

	if r := []rune(s); len(r) >= maxMultiLineLength {
		s = string(r[0:maxMultiLineLength-len(truncatedStringEnd)]) + truncatedStringEnd
	}
	return s
}

func splitStringIntoLines(text string, maxWidth int) []string {
	if len(text) == 0 {
		return []string{""}
	}

	lines := strings.Split(text, "\n")
	finalLines := make([]string, 0, len(lines))

	for _, line := range lines {
		runes := []rune(line)
		if len(runes) <= maxWidth {
			finalLines = append(finalLines, line)
			continue
		}
		for i := 0; i < len(runes); i += maxWidth {
			end := min(i+maxWidth, len(runes))
			finalLines = append(finalLines, string(runes[i:end]))
		}
	}

	return finalLines
}

// computeTableSize sizes every column to its widest cell, between
// minColumnWidth and maxLength.
func computeTableSize(columns []string, rows [][]any) []int {
	columnSize := make([]int, len(columns))
	for i, aColumn := range columns {
		columnSize[i] = max(minColumnWidth, utf8.RuneCountInString(aColumn))
	}
	for _, values := range rows {
		for i, aValue := range values {
			if i >= len(columnSize) {
				break
			}
			for _, line := range strings.Split(formatValue(aValue), "\n") {
				columnSize[i] = max(columnSize[i], utf8.RuneCountInString(line))
			}
		}
	}
	for i := range columnSize {
		columnSize[i] = min(columnSize[i], max(maxLength, utf8.RuneCountInString(columns[i])))
	}

	return columnSize
}
