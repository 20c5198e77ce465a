package dispatch

import (
	"fmt"
	"strings"

	"github.com/harun/docrelay/pkg/backend"
)

const (
	defaultFilename = "file.pdf"

	msgNoCandidates     = "❌ No approved payment requests found."
	msgInvalidSelection = "❌ Invalid selection."
	msgInvalidResponse  = "❌ Server error: Invalid response."
	msgServerError      = "❌ Server error: the processing service is unavailable, please try again."
	msgListHeader       = "*Please choose one of the approved payment requests:*\n"
)

// renderCandidates numbers candidates from 1 in the order given.
func renderCandidates(list []backend.Candidate) string {
	var b strings.Builder
	b.WriteString(msgListHeader)
	for i, c := range list {
		fmt.Fprintf(&b, "\n*%d.* %s | %s | %s %s",
			i+1, c.CompanyName, c.InvoiceNumber.String(), c.Amount.String(), c.Currency)
	}
	return b.String()
}

func linkFailedText(res backend.LinkResult) string {
	return "❌ An error occurred: " + res.ErrorText()
}

func linkedText(id backend.Scalar) string {
	return fmt.Sprintf("✅ PDF has been linked to request #%s successfully.", id.String())
}
