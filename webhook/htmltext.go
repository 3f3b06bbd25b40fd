// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractText reduces an HTML fragment to the concatenation of its text
// nodes in document order, discarding all tags and attributes. Matrix
// requires a plaintext body alongside any formatted_body; this produces
// that fallback when the payload only carries HTML.
//
// The tokenizer is forgiving: malformed markup degrades to whatever
// text it can find rather than erroring, which is the right behavior
// for a fallback rendering of caller-supplied input.
func ExtractText(fragment string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))

	var out strings.Builder
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			// io.EOF ends the fragment; any other tokenizer error also
			// ends extraction with the text collected so far.
			return out.String()
		}
		if tokenType == html.TextToken {
			out.Write(tokenizer.Text())
		}
	}
}
