package engine

import (
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/ledger"
)

// TestChunkByTokensSingleChunk verifies a small span stays whole.
func TestChunkByTokensSingleChunk(t *testing.T) {
	msgs := []ledger.Message{
		{Body: "short"},
		{Body: "also short"},
	}

	chunks := chunkByTokens(msgs, 1000)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if len(chunks[0]) != 2 {
		t.Errorf("chunk size = %d, want 2", len(chunks[0]))
	}
}

// TestChunkByTokensSplits verifies the budget forces a split while
// preserving order and dropping nothing.
func TestChunkByTokensSplits(t *testing.T) {
	long := strings.Repeat("x", 400) // ~100 tokens each
	msgs := make([]ledger.Message, 10)
	for i := range msgs {
		msgs[i] = ledger.Message{SequenceNo: int64(i + 1), Body: long}
	}

	chunks := chunkByTokens(msgs, 300)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}

	var seen int64
	total := 0
	for _, chunk := range chunks {
		for _, m := range chunk {
			if m.SequenceNo <= seen {
				t.Fatalf("order broken at sequence %d", m.SequenceNo)
			}
			seen = m.SequenceNo
			total++
		}
	}
	if total != len(msgs) {
		t.Errorf("chunked %d messages, want %d", total, len(msgs))
	}
}

// TestChunkByTokensOversizedMessage verifies a single message over budget
// still forms its own chunk instead of being dropped.
func TestChunkByTokensOversizedMessage(t *testing.T) {
	msgs := []ledger.Message{
		{SequenceNo: 1, Body: "small"},
		{SequenceNo: 2, Body: strings.Repeat("x", 4000)},
		{SequenceNo: 3, Body: "small"},
	}

	chunks := chunkByTokens(msgs, 100)
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total != 3 {
		t.Errorf("chunked %d messages, want 3", total)
	}
}

// TestChunkByTokensEmpty verifies an empty span yields no chunks.
func TestChunkByTokensEmpty(t *testing.T) {
	if chunks := chunkByTokens(nil, 100); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}

// TestEstimateTokens sanity-checks the four-chars-per-token heuristic.
func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != messageTokenOverhead {
		t.Errorf("empty body = %d, want overhead %d", got, messageTokenOverhead)
	}
	if got := estimateTokens(strings.Repeat("x", 400)); got != 100+messageTokenOverhead {
		t.Errorf("400 chars = %d tokens", got)
	}
}
