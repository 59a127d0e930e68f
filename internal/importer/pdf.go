// Adapted from https://github.com/koushamad/PDFtoMD/blob/master/PDFtoMD.go

package importer

import (
	"fmt"
	"regexp"
	"strings"

	"qa-backend/pkg/api"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gen2brain/go-fitz"
)

func PDFToMD(contents []byte) (string, error) {
	doc, err := fitz.NewFromMemory(contents)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	numPages := doc.NumPage()
	var mdContent string

	for i := 0; i < numPages; i++ {
		html, err := doc.HTML(i, true)
		if err != nil {
			return "", err
		}

		converter := md.NewConverter("", true, nil)
		text, err := converter.ConvertString(html)
		if err != nil {
			return "", err
		}

		// Remove hardcoded images before adding to content to reduce content size.
		mdContent += removeHardcodedImages(text) + "\n\n"
	}

	return mdContent, nil
}

func removeHardcodedImages(content string) string {
	// Remove hardcoded base64 images in the format ![](data:image/...)
	re := regexp.MustCompile(`!\[\]\(data:image/[^)]+\)`)
	return re.ReplaceAllString(content, "")
}

// minContextLen filters out headers, page numbers and other fragments that
// are too short to ask a question about.
const minContextLen = 200

// SplitContexts breaks document text into paragraph-sized passages suitable
// as question contexts.
func SplitContexts(text string) []string {
	var contexts []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if len(block) < minContextLen {
			continue
		}
		contexts = append(contexts, block)
	}
	return contexts
}

// BuildRecords extracts passages from a PDF and pairs every question with
// every passage. ExternalId encodes the passage and question indices so
// records can be traced back to the document.
func BuildRecords(pdf []byte, questions []string) ([]api.RecordSeed, error) {
	text, err := PDFToMD(pdf)
	if err != nil {
		return nil, fmt.Errorf("error converting pdf: %w", err)
	}

	contexts := SplitContexts(text)
	if len(contexts) == 0 {
		return nil, fmt.Errorf("no usable passages found in document")
	}

	records := make([]api.RecordSeed, 0, len(contexts)*len(questions))
	for ci, context := range contexts {
		for qi, question := range questions {
			records = append(records, api.RecordSeed{
				ExternalId: fmt.Sprintf("passage-%d-question-%d", ci, qi),
				Question:   question,
				Context:    context,
			})
		}
	}
	return records, nil
}
