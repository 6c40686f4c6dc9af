package scrollsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/parser"
)

func TestResolveClickFindsClickedOccurrence(t *testing.T) {
	source := []byte("The **quick** fox jumps. The fox runs.")
	doc := parser.Parse(source)
	require.Len(t, doc.Records, 2)

	para := doc.Records[0]
	second := strings.LastIndex(para.Text, "fox")

	preview := newFakePreview()
	preview.records = doc.Records
	preview.caret = &Caret{RecordID: para.ID, TextOffset: second + 1}

	target, ok := ResolveClick(preview, source, 10, 20)
	require.True(t, ok)
	assert.True(t, target.Exact)
	assert.Equal(t, "fox", target.Word)
	assert.Equal(t, strings.Index(string(source), "The fox runs")+len("The "), target.Offset)
	assert.Nil(t, target.Inline)
}

func TestResolveCaretInsideInlineRecord(t *testing.T) {
	source := []byte("The **quick** fox jumps. The fox runs.")
	doc := parser.Parse(source)
	strong := doc.Records[1]
	require.Equal(t, "Emphasis", strong.Kind)

	target, ok := ResolveCaret(doc.Records, source, Caret{RecordID: strong.ID, TextOffset: 2})
	require.True(t, ok)
	assert.Equal(t, "quick", target.Word)
	assert.Equal(t, strings.Index(string(source), "quick"), target.Offset)
	require.NotNil(t, target.Inline)
	assert.Equal(t, strong.ID, target.Inline.ID)
	assert.Equal(t, doc.Records[0].ID, target.Block.ID)
}

func TestResolveCaretRetriesWithoutInlineMarkup(t *testing.T) {
	source := []byte("Use **bo**ld here")
	doc := parser.Parse(source)
	para := doc.Records[0]
	require.Equal(t, "Use bold here", para.Text)

	target, ok := ResolveCaret(doc.Records, source, Caret{RecordID: para.ID, TextOffset: 6})
	require.True(t, ok)
	assert.Equal(t, "bold", target.Word)
	assert.True(t, target.Exact)
	assert.Equal(t, strings.Index(string(source), "bo**ld"), target.Offset)
}

func TestResolveCaretFallsBackToBlockStart(t *testing.T) {
	records := []parser.Record{
		{ID: 0, Kind: "Paragraph", IsBlock: true, Parent: -1, Span: parser.Span{Start: 4, End: 14}, Text: "alpha - beta"},
	}
	source := []byte("xxx alpha gamma")

	target, ok := ResolveCaret(records, source, Caret{RecordID: 0, TextOffset: 9})
	require.True(t, ok)
	assert.Equal(t, "beta", target.Word)
	assert.False(t, target.Exact)
	assert.Equal(t, 4, target.Offset)

	target, ok = ResolveCaret(records, source, Caret{RecordID: 0, TextOffset: 6})
	require.True(t, ok)
	assert.Empty(t, target.Word)
	assert.Equal(t, 4, target.Offset)
}

func TestResolveClickWithoutCaretSupportIsNoop(t *testing.T) {
	preview := newFakePreview()
	_, ok := ResolveClick(preview, []byte("text"), 1, 1)
	assert.False(t, ok)

	_, ok = ResolveClick(nil, []byte("text"), 1, 1)
	assert.False(t, ok)

	_, ok = ResolveCaret(nil, []byte("text"), Caret{RecordID: 3})
	assert.False(t, ok)
}

func TestExtractWordUsesUnicodeCategories(t *testing.T) {
	cases := []struct {
		text   string
		offset int
		word   string
		start  int
	}{
		{"hello world", 7, "world", 6},
		{"hello world", 5, "hello", 0},
		{"привет мир", 3, "привет", 0},
		{"東京 タワー", 8, "タワー", 7},
		{"v2 release", 1, "v2", 0},
		{"a, b", 2, "", 2},
	}

	for _, tc := range cases {
		word, start := ExtractWord(tc.text, tc.offset)
		assert.Equal(t, tc.word, word, tc.text)
		assert.Equal(t, tc.start, start, tc.text)
	}
}

func TestOccurrenceHelpers(t *testing.T) {
	assert.Equal(t, 0, OccurrenceIndex("fox fox fox", "fox", 0))
	assert.Equal(t, 1, OccurrenceIndex("fox fox fox", "fox", 4))
	assert.Equal(t, 2, OccurrenceIndex("fox fox fox", "fox", 8))

	assert.Equal(t, 8, FindNthOccurrence([]byte("fox fox fox"), "fox", 2))
	assert.Equal(t, -1, FindNthOccurrence([]byte("fox fox fox"), "fox", 3))
	assert.Equal(t, -1, FindNthOccurrence([]byte("fox"), "", 0))

	assert.Equal(t, 3, FindNthStripped([]byte("a `co`de"), "code", 0))
	assert.Equal(t, -1, FindNthStripped([]byte("a `co`de"), "mode", 0))
}
