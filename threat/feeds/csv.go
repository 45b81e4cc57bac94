package feeds

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Generic CSV Adapter
// =============================================================================

const csvName = "csv"

// CSVAdapter reads one indicator per row from a CSV download.
//
// Config keys: delimiter, comment_char, skip_header, value_column,
// type_column, default_type, category, confidence.
type CSVAdapter struct {
	baseAdapter
	url         string
	delimiter   rune
	commentChar byte
	skipHeader  bool
	valueColumn int
	typeColumn  int
	defaultType core.IOCType
	category    string
	confidence  float64
}

// NewCSVAdapter is the Constructor for csv
func NewCSVAdapter(cfg AdapterConfig) (Adapter, error) {
	a := &CSVAdapter{
		baseAdapter: newBaseAdapter(csvName, cfg),
		url:         cfg.URL(""),
		delimiter:   ',',
		commentChar: '#',
		skipHeader:  cfg.Bool("skip_header", false),
		valueColumn: cfg.Int("value_column", 0),
		typeColumn:  cfg.Int("type_column", -1),
		defaultType: parseIOCType(cfg.String("default_type", "")),
		category:    cfg.String("category", ""),
		confidence:  cfg.Float("confidence", core.DefaultCandidateConfidence),
	}

	if a.url == "" {
		return nil, fmt.Errorf("csv adapter: source URL is required")
	}
	if d := cfg.String("delimiter", ""); d != "" {
		if d == `\t` || d == "tab" {
			d = "\t"
		}
		if len([]rune(d)) != 1 {
			return nil, fmt.Errorf("csv adapter: delimiter must be a single character")
		}
		a.delimiter = []rune(d)[0]
	}
	if c := cfg.String("comment_char", "#"); c != "" {
		a.commentChar = c[0]
	} else {
		a.commentChar = 0
	}
	if a.valueColumn < 0 {
		return nil, fmt.Errorf("csv adapter: value_column must be >= 0")
	}
	return a, nil
}

func (a *CSVAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetcher.Fetch(ctx, a.name, Request{URL: a.url})
}

func (a *CSVAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	var input io.Reader = bytes.NewReader(raw)
	if a.commentChar != 0 {
		input = newCommentFilterReader(input, a.commentChar)
	}

	reader := csv.NewReader(input)
	reader.Comma = a.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var outcomes []core.Outcome
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				outcomes = append(outcomes, core.Err(err.Error()))
				continue
			}
			return nil, core.NewParseError(a.name, err)
		}
		if row == 1 && a.skipHeader {
			continue
		}
		outcomes = append(outcomes, a.mapRecord(record, row))
	}
	return a.collect(outcomes), nil
}

func (a *CSVAdapter) mapRecord(record []string, row int) core.Outcome {
	if a.valueColumn >= len(record) {
		return core.Err("row " + strconv.Itoa(row) + ": missing value column")
	}
	value := strings.Trim(strings.TrimSpace(record[a.valueColumn]), `"`)
	if value == "" {
		return core.Skip("empty value")
	}

	var iocType core.IOCType
	if a.typeColumn >= 0 && a.typeColumn < len(record) {
		iocType = parseIOCType(record[a.typeColumn])
	}
	if iocType == "" {
		iocType = a.defaultType
	}
	if iocType == "" {
		iocType = core.DetectIOCType(value)
	}
	if iocType == "" {
		return core.Skip("unrecognized indicator")
	}

	return core.Ok(core.Candidate{
		Indicator:       value,
		Type:            iocType,
		Category:        a.category,
		ConfidenceScore: a.confidence,
		Metadata:        core.Metadata{"row": row},
	})
}

// commentFilterReader drops blank lines and lines starting with a comment
// character before they reach the CSV reader
type commentFilterReader struct {
	scanner     *bufio.Scanner
	commentChar byte
	buf         []byte
	pos         int
}

func newCommentFilterReader(r io.Reader, commentChar byte) *commentFilterReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &commentFilterReader{scanner: scanner, commentChar: commentChar}
}

func (r *commentFilterReader) Read(p []byte) (int, error) {
	if r.pos < len(r.buf) {
		n := copy(p, r.buf[r.pos:])
		r.pos += n
		return n, nil
	}

	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] == r.commentChar {
			continue
		}
		r.buf = append(append(r.buf[:0], line...), '\n')
		n := copy(p, r.buf)
		r.pos = n
		return n, nil
	}

	if err := r.scanner.Err(); err != nil {
		return 0, err
	}
	return 0, io.EOF
}
