package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitContexts(t *testing.T) {
	long1 := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 6)
	long2 := strings.Repeat("A second passage with enough text to be worth asking about. ", 5)

	text := "Page 3\n\n" + long1 + "\n\nShort header\n\n  " + long2 + "  \n\n"

	contexts := SplitContexts(text)
	assert.Equal(t, []string{strings.TrimSpace(long1), strings.TrimSpace(long2)}, contexts)
}

func TestSplitContextsAllShort(t *testing.T) {
	assert.Empty(t, SplitContexts("Title\n\nPage 1\n\nfooter"))
}

func TestRemoveHardcodedImages(t *testing.T) {
	content := "before ![](data:image/png;base64,AAAA) after"
	assert.Equal(t, "before  after", removeHardcodedImages(content))
}
