package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkDocument_MergesSmallParagraphs(t *testing.T) {
	chunks := ChunkDocument("doc.txt", "one\n\ntwo\n\nthree", 100)
	require.Len(t, chunks, 1)
	require.Equal(t, "one\n\ntwo\n\nthree", chunks[0].Text)
	require.Equal(t, "doc.txt", chunks[0].Source)
}

func TestChunkDocument_SplitsAtParagraphs(t *testing.T) {
	a := strings.Repeat("a", 40)
	b := strings.Repeat("b", 40)
	chunks := ChunkDocument("doc.txt", a+"\n\n"+b, 60)
	require.Len(t, chunks, 2)
	require.Equal(t, a, chunks[0].Text)
	require.Equal(t, b, chunks[1].Text)
}

func TestChunkDocument_OversizedParagraphStandsAlone(t *testing.T) {
	long := strings.Repeat("x", 150)
	chunks := ChunkDocument("doc.txt", "short\n\n"+long+"\n\ntail", 100)
	require.Len(t, chunks, 3)
	require.Equal(t, long, chunks[1].Text)
}

func TestChunkDocument_NormalizesWhitespace(t *testing.T) {
	chunks := ChunkDocument("doc.txt", "  Hello\tthere \r\n  friend  \r\n\r\n\r\nbye ", 100)
	require.Len(t, chunks, 1)
	require.Equal(t, "Hello there friend\n\nbye", chunks[0].Text)
}

func TestChunkDocument_DeterministicIDs(t *testing.T) {
	first := ChunkDocument("doc.txt", "alpha", 100)
	second := ChunkDocument("doc.txt", "alpha", 100)
	other := ChunkDocument("other.txt", "alpha", 100)
	require.Equal(t, first[0].ID, second[0].ID)
	require.NotEqual(t, first[0].ID, other[0].ID)
	require.Len(t, first[0].ID, 12)
}

func TestChunkDocument_Empty(t *testing.T) {
	require.Empty(t, ChunkDocument("doc.txt", " \n\n ", 100))
}
