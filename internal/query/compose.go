package query

import (
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// SummaryInstruction asks the engine to open with a short paragraph that can be
// carried into the next turn.
const SummaryInstruction = "Return a summary of your answer in no more than 100 words in the first paragraph, then provide the full original answer normally."

// searchParams select the AI answer experience in English. Order is fixed.
const searchParams = "udm=50&aep=11&hl=en&lr=lang_en"

var challengeMarkers = []string{"captcha", "unusual traffic"}

// ComposeQuery builds the text sent to the engine: prior summary (when present), the
// summary instruction, then the user's words.
func ComposeQuery(memory, raw string) string {
	var b strings.Builder
	if memory != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(memory)
		b.WriteString(". ")
	}
	b.WriteString(SummaryInstruction)
	b.WriteString(" Users query: ")
	b.WriteString(raw)
	return b.String()
}

// BuildURL returns the search URL for a composed query. The query is form-encoded.
func BuildURL(host, composed string) string {
	return "https://" + host + "/search?" + searchParams + "&q=" + url.QueryEscape(composed)
}

// IsChallenge reports whether the page is a bot-verification interstitial.
func IsChallenge(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// transportErrors are what the CDP websocket hands back once Chrome is gone.
var transportErrors = []error{io.EOF, io.ErrUnexpectedEOF, net.ErrClosed, syscall.ECONNRESET, syscall.EPIPE}

// IsCrash reports whether err says the browser process can no longer be reached.
func IsCrash(err error, markers []string) bool {
	if err == nil {
		return false
	}
	for _, target := range transportErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if marker != "" && strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
