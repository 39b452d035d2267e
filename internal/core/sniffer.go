package core

// sniffer.go infers delimiter, header presence, and encoding from the first
// lines of a file.
//
// Delimiter: every candidate is scored by its modal column count weighted by
// the share of lines that agree with it. Candidates are visited in priority
// order (comma, semicolon, pipe, tab) and only a strictly better score
// replaces the current best, so ties keep the higher-priority delimiter.
//
// Header: the first line is a header when it is proportionally more textual
// than the second, or when the two lines disagree on column count.
//
// Confidence: 0.8 x share of lines whose column count matches the first
// line, plus 0.2 when there is more than one column, capped at 1.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DefaultSampleLines is the number of leading lines read for detection.
const DefaultSampleLines = 10

// LowConfidenceThreshold flags detections callers should not trust.
const LowConfidenceThreshold = 0.5

// candidateDelimiters in tie-break priority order.
var candidateDelimiters = []rune{',', ';', '|', '\t'}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadSample returns at most maxLines leading lines of r as raw bytes,
// line terminators included.
func ReadSample(r io.Reader, maxLines int) ([]byte, error) {
	if maxLines <= 0 {
		maxLines = DefaultSampleLines
	}
	br := bufio.NewReader(r)
	var buf bytes.Buffer
	for i := 0; i < maxLines; i++ {
		line, err := br.ReadBytes('\n')
		buf.Write(line)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Sniff detects the format of sample. It never fails: a sample it cannot
// make sense of yields a low-confidence comma profile.
func Sniff(sample []byte) FormatProfile {
	text, enc := decodeSample(sample)
	lines := sampleLines(text)

	profile := FormatProfile{
		Delimiter: ',',
		Encoding:  enc,
	}
	if len(lines) == 0 {
		profile.LowConfidence = true
		return profile
	}

	profile.Delimiter = pickDelimiter(lines)

	counts := make([]int, len(lines))
	for i, line := range lines {
		counts[i] = countFields(line, profile.Delimiter)
	}
	profile.Confidence = confidence(counts)
	profile.LowConfidence = profile.Confidence < LowConfidenceThreshold

	profile.SampleRows = parseSample(lines, profile.Delimiter)
	profile.HasHeader = detectHeader(profile.SampleRows)

	return profile
}

// decodeSample strips a UTF-8 BOM and falls back to Latin-1 when the bytes
// are not valid UTF-8.
func decodeSample(sample []byte) (string, Encoding) {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	if utf8.Valid(sample) {
		return string(sample), EncodingUTF8
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(sample)
	if err != nil {
		return strings.ToValidUTF8(string(sample), "�"), EncodingUTF8
	}
	return string(decoded), EncodingLatin1
}

// sampleLines splits text into non-blank lines without terminators.
func sampleLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// pickDelimiter returns the candidate with the highest consistent column count.
func pickDelimiter(lines []string) rune {
	best := candidateDelimiters[0]
	bestScore := 0.0

	for _, d := range candidateDelimiters {
		counts := make([]int, len(lines))
		for i, line := range lines {
			counts[i] = countFields(line, d)
		}
		mode, share := modalCount(counts)
		if mode < 2 {
			continue
		}
		score := float64(mode) * share
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// countFields counts delimiter-separated fields, ignoring delimiters inside
// double quotes.
func countFields(line string, delim rune) int {
	n := 1
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == delim && !inQuote:
			n++
		}
	}
	return n
}

// modalCount returns the most frequent value and the share of entries
// holding it. Ties prefer the larger value.
func modalCount(counts []int) (int, float64) {
	freq := make(map[int]int, len(counts))
	for _, c := range counts {
		freq[c]++
	}
	mode, best := 0, 0
	for v, f := range freq {
		if f > best || (f == best && v > mode) {
			mode, best = v, f
		}
	}
	if len(counts) == 0 {
		return 0, 0
	}
	return mode, float64(best) / float64(len(counts))
}

func confidence(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	matching := 0
	for _, c := range counts {
		if c == counts[0] {
			matching++
		}
	}
	score := 0.8 * (float64(matching) / float64(len(counts)))
	if counts[0] > 1 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// parseSample tokenizes the sampled lines with encoding/csv.
// Lines the csv reader rejects are split naively so detection can continue.
func parseSample(lines []string, delim rune) [][]string {
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = delim
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		rec, err := r.Read()
		if err != nil {
			rec = strings.Split(line, string(delim))
		}
		rows = append(rows, rec)
	}
	return rows
}

// detectHeader compares the textual ratio of the first two rows.
func detectHeader(rows [][]string) bool {
	if len(rows) == 0 {
		return false
	}
	if len(rows) == 1 {
		return textRatio(rows[0]) == 1
	}
	first, second := rows[0], rows[1]
	if len(first) != len(second) {
		return true
	}
	r1, r2 := textRatio(first), textRatio(second)
	if r1 > r2 {
		return true
	}
	if r1 == 1 && r2 == 1 {
		return distinctFromBody(first, rows[1:])
	}
	return false
}

// textRatio is the fraction of non-empty tokens that are not numeric.
func textRatio(row []string) float64 {
	if len(row) == 0 {
		return 0
	}
	text := 0
	for _, v := range row {
		if !looksNumeric(v) {
			text++
		}
	}
	return float64(text) / float64(len(row))
}

// distinctFromBody breaks the all-text tie: a header has unique names that
// never reappear as values in their own column.
func distinctFromBody(first []string, body [][]string) bool {
	seen := make(map[string]bool, len(first))
	for i, name := range first {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return false
		}
		seen[key] = true
		for _, row := range body {
			if i < len(row) && strings.EqualFold(strings.TrimSpace(row[i]), key) {
				return false
			}
		}
	}
	return true
}

// looksNumeric reports whether v reads as a number or numeric date.
func looksNumeric(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	hasDigit := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(".,-+eE/:$% ", r):
		default:
			return false
		}
	}
	return hasDigit
}
