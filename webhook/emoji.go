// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed emoji.json
var emojiJSON []byte

var (
	emojiOnce  sync.Once
	emojiTable map[string]string
)

// loadEmojiTable parses the embedded shortcode table once. The table is
// read-only after construction, so no further synchronization is needed.
func loadEmojiTable() map[string]string {
	emojiOnce.Do(func() {
		if err := json.Unmarshal(emojiJSON, &emojiTable); err != nil {
			// The table is embedded at build time; a parse failure is a
			// build defect, not a runtime condition.
			panic(fmt.Sprintf("webhook: embedded emoji table is invalid: %v", err))
		}
	})
	return emojiTable
}

// EmojiGlyph returns the Unicode glyph for a shortcode name (without
// colons), or false when the name is not in the table.
func EmojiGlyph(name string) (string, bool) {
	glyph, ok := loadEmojiTable()[name]
	return glyph, ok
}

// SubstituteEmoji replaces every recognized :name: shortcode in s with
// its glyph. Unrecognized tokens keep their flanking colons verbatim.
//
// The scanning rule splits on ':'. The first and last fragments are
// never candidates (they have no opening or no closing colon). An
// interior fragment that matches the table is replaced and both
// flanking colons are consumed — which means the following fragment has
// lost its opening colon and is emitted literally rather than treated
// as a candidate. A non-matching fragment is re-emitted with its
// opening colon restored.
func SubstituteEmoji(s string) string {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		// Fewer than two colons: nothing can be a shortcode.
		return s
	}

	table := loadEmojiTable()

	var out strings.Builder
	out.Grow(len(s))
	out.WriteString(parts[0])

	index := 1
	for index < len(parts) {
		token := parts[index]
		if index < len(parts)-1 {
			if glyph, ok := table[token]; ok {
				out.WriteString(glyph)
				index++
				// The replacement consumed this fragment's closing
				// colon, so the next fragment has no opening colon and
				// cannot itself be a shortcode.
				if index < len(parts) {
					out.WriteString(parts[index])
					index++
				}
				continue
			}
		}
		out.WriteString(":")
		out.WriteString(token)
		index++
	}
	return out.String()
}
