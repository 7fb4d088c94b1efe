package resultset

import (
	"errors"
	"testing"
)

func TestChunkTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StatePending, StateDownloading, true},
		{StatePending, StateParsing, false},
		{StatePending, StateReady, false},
		{StateDownloading, StateParsing, true},
		{StateDownloading, StateFailed, true},
		{StateDownloading, StateReady, false},
		{StateParsing, StateFailed, true},
		{StateFailed, StateDownloading, true},
		{StateFailed, StateParsing, false},
		{StateReady, StateDownloading, false},
		{StateCanceled, StateDownloading, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			c := newResultChunk(0, ChunkDescriptor{URL: "u"})
			c.state = tt.from
			err := c.transition(tt.to)
			if tt.ok && err != nil {
				t.Fatalf("expected transition to succeed: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected transition to be rejected")
			}
		})
	}
}

func TestChunkReadyRequiresRows(t *testing.T) {
	c := newResultChunk(0, ChunkDescriptor{URL: "u", RowCount: 1})
	c.state = StateParsing

	if err := c.ready(); err == nil {
		t.Fatal("expected ready without rows to fail")
	}

	if err := c.SetRows([][]Value{{"a"}}); err != nil {
		t.Fatalf("SetRows: %v", err)
	}
	if rows := c.Rows(); rows != nil {
		t.Fatal("rows must not be visible before the chunk is ready")
	}
	if err := c.ready(); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if rows := c.Rows(); len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	select {
	case <-c.done:
	default:
		t.Fatal("done channel not closed")
	}

	if err := c.transition(StateFailed); err == nil {
		t.Fatal("ready is terminal")
	}
}

func TestChunkSetRows(t *testing.T) {
	tests := []struct {
		name    string
		desc    ChunkDescriptor
		state   State
		rows    [][]Value
		wantErr bool
		parse   bool
	}{
		{"matching", ChunkDescriptor{RowCount: 2, ColumnCount: 1}, StateParsing, [][]Value{{"a"}, {"b"}}, false, false},
		{"empty chunk", ChunkDescriptor{RowCount: 0}, StateParsing, nil, false, false},
		{"too few rows", ChunkDescriptor{RowCount: 3}, StateParsing, [][]Value{{"a"}}, true, true},
		{"wrong column count", ChunkDescriptor{RowCount: 1, ColumnCount: 2}, StateParsing, [][]Value{{"a"}}, true, true},
		{"unknown columns", ChunkDescriptor{RowCount: 2}, StateParsing, [][]Value{{"a"}, {"b", "c"}}, false, false},
		{"not parsing", ChunkDescriptor{RowCount: 1}, StateDownloading, [][]Value{{"a"}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newResultChunk(3, tt.desc)
			c.state = tt.state
			err := c.SetRows(tt.rows)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetRows error = %v, wantErr %v", err, tt.wantErr)
			}
			var pe *ParseError
			if errors.As(err, &pe) != tt.parse {
				t.Fatalf("expected ParseError=%v, got %v", tt.parse, err)
			}
			if pe != nil && pe.Index != 3 {
				t.Errorf("expected index 3, got %d", pe.Index)
			}
		})
	}
}

func TestChunkSetRowsOnce(t *testing.T) {
	c := newResultChunk(0, ChunkDescriptor{RowCount: 1})
	c.state = StateParsing

	if err := c.SetRows([][]Value{{"a"}}); err != nil {
		t.Fatalf("SetRows: %v", err)
	}
	if err := c.SetRows([][]Value{{"b"}}); err == nil {
		t.Fatal("expected second SetRows to fail")
	}
}

func TestChunkFailureRecording(t *testing.T) {
	c := newResultChunk(5, ChunkDescriptor{URL: "u", RowCount: 1})

	for i := 0; i < 3; i++ {
		if err := c.begin(); err != nil {
			t.Fatalf("begin attempt %d: %v", i+1, err)
		}
		if n := c.recordFailure(FailureTransport, errors.New("reset")); n != i+1 {
			t.Fatalf("expected %d failures, got %d", i+1, n)
		}
	}

	cerr := c.fail(ErrRetriesExhausted)
	if cerr.Index != 5 || cerr.Attempts != 3 || len(cerr.Failures) != 3 {
		t.Fatalf("unexpected chunk error %+v", cerr)
	}
	if !errors.Is(c.Err(), ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", c.Err())
	}
	if c.State() != StateFailed {
		t.Errorf("expected failed state, got %s", c.State())
	}

	// Cancel after a terminal failure keeps the failure.
	c.cancel()
	if c.State() != StateFailed {
		t.Errorf("cancel must not override a terminal state, got %s", c.State())
	}
}
