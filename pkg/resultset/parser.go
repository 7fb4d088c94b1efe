package resultset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
)

// Value is a single cell of a row: nil, bool, string, json.Number, or a
// nested []any / map[string]any for semi-structured columns.
type Value = any

// ChunkParser turns one downloaded payload into the rows of a chunk.
// A parser is bound to a single attempt; it must call ResultChunk.SetRows on
// success.
type ChunkParser interface {
	ParseChunk(chunk *ResultChunk) error
}

// ParserFactory creates the parser for one attempt. Parser is called once per
// attempt with the response body and the scratch buffer of the worker running
// the attempt.
type ParserFactory interface {
	Parser(body io.Reader, scratch *Scratch) ChunkParser
}

// ParserFactoryFunc adapts a function to ParserFactory.
type ParserFactoryFunc func(body io.Reader, scratch *Scratch) ChunkParser

func (f ParserFactoryFunc) Parser(body io.Reader, scratch *Scratch) ChunkParser {
	return f(body, scratch)
}

// ParserKind selects a built-in parser.
type ParserKind int

const (
	// ParserReusable buffers the payload in the worker's scratch buffer and
	// scans it in place. The buffer is kept across chunks.
	ParserReusable ParserKind = iota
	// ParserOneShot streams the payload through a JSON decoder and keeps no
	// state between chunks.
	ParserOneShot
)

func (k ParserKind) String() string {
	switch k {
	case ParserReusable:
		return "reusable"
	case ParserOneShot:
		return "oneshot"
	default:
		return fmt.Sprintf("parser(%d)", int(k))
	}
}

// ParseParserKind parses the name of a parser kind.
func ParseParserKind(s string) (ParserKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reusable":
		return ParserReusable, nil
	case "oneshot", "one-shot":
		return ParserOneShot, nil
	default:
		return 0, fmt.Errorf("unknown parser %q", s)
	}
}

// DefaultParserFactory builds the parsers shipped with this package.
type DefaultParserFactory struct {
	Kind ParserKind
}

func (f DefaultParserFactory) Parser(body io.Reader, scratch *Scratch) ChunkParser {
	if f.Kind == ParserReusable && scratch != nil {
		return &reusableParser{body: body, scratch: scratch}
	}
	return &oneShotParser{body: body}
}

// Scratch is a per-worker buffer reused across the chunks a worker parses.
type Scratch struct {
	buf bytes.Buffer
}

// NewScratch returns an empty scratch buffer.
func NewScratch() *Scratch {
	return &Scratch{}
}

// Cap returns the capacity currently held by the buffer.
func (s *Scratch) Cap() int {
	return s.buf.Cap()
}

// Release drops the held memory.
func (s *Scratch) Release() {
	s.buf = bytes.Buffer{}
}

var (
	errNotArray     = errors.New("payload is not a JSON array")
	errTrailingData = errors.New("unexpected data after payload")
)

// maxPreGrow caps how much of the descriptor's size hint is allocated up
// front. Larger payloads still grow the buffer while reading.
const maxPreGrow = 64 << 20

type reusableParser struct {
	body    io.Reader
	scratch *Scratch
}

func (p *reusableParser) ParseChunk(c *ResultChunk) error {
	buf := &p.scratch.buf
	buf.Reset()
	if size := c.Descriptor().UncompressedSize; size > 0 {
		buf.Grow(int(min(size, maxPreGrow)))
	}
	if _, err := buf.ReadFrom(p.body); err != nil {
		return &ParseError{Index: c.Index(), Err: fmt.Errorf("read payload: %w", err)}
	}

	rows, err := scanRows(buf.Bytes(), c.RowCount(), c.ColumnCount())
	if err != nil {
		return &ParseError{Index: c.Index(), Err: err}
	}
	return c.SetRows(rows)
}

// scanRows walks a [[...],[...]] payload. Every value is copied out of data,
// so data may be reused once scanRows returns.
func scanRows(data []byte, rowCount, columnCount int) ([][]Value, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}
	payload, dataType, end, err := jsonparser.Get(trimmed)
	if err != nil {
		return nil, err
	}
	if dataType != jsonparser.Array {
		return nil, errNotArray
	}
	if len(bytes.TrimSpace(trimmed[end:])) != 0 {
		return nil, errTrailingData
	}

	if rowCount < 0 {
		rowCount = 0
	}
	rows := make([][]Value, 0, rowCount)
	var scanErr error

	_, err = jsonparser.ArrayEach(payload, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if scanErr != nil {
			return
		}
		if dataType != jsonparser.Array {
			scanErr = fmt.Errorf("row %d: expected array, got %s", len(rows), dataType)
			return
		}

		row := make([]Value, 0, columnCount)
		_, err := jsonparser.ArrayEach(value, func(cell []byte, cellType jsonparser.ValueType, _ int, _ error) {
			if scanErr != nil {
				return
			}
			v, err := cellValue(cell, cellType)
			if err != nil {
				scanErr = fmt.Errorf("row %d column %d: %w", len(rows), len(row), err)
				return
			}
			row = append(row, v)
		})
		if err != nil && scanErr == nil {
			scanErr = fmt.Errorf("row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func cellValue(cell []byte, t jsonparser.ValueType) (Value, error) {
	switch t {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.String:
		return jsonparser.ParseString(cell)
	case jsonparser.Number:
		return json.Number(string(cell)), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(cell)
	case jsonparser.Object, jsonparser.Array:
		dec := json.NewDecoder(bytes.NewReader(cell))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected value type %s", t)
	}
}

type oneShotParser struct {
	body io.Reader
}

func (p *oneShotParser) ParseChunk(c *ResultChunk) error {
	dec := json.NewDecoder(p.body)
	dec.UseNumber()

	var rows [][]Value
	if err := dec.Decode(&rows); err != nil {
		return &ParseError{Index: c.Index(), Err: err}
	}
	if rows == nil {
		return &ParseError{Index: c.Index(), Err: errNotArray}
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return &ParseError{Index: c.Index(), Err: errTrailingData}
	}
	return c.SetRows(rows)
}
