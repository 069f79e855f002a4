// Package artifact turns raw model text into typed study artifacts.
//
// The generator's prose is untrusted and ill-formed: entries are located by
// recognized line markers, malformed blocks are dropped silently, and only a
// fully empty result is an error. Surrounding Markdown code fences are
// stripped before marker parsing begins.
package artifact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quizmate/quizmate/internal/models"
)

// MaxDeckSize caps a flashcard deck; longer results are truncated, not rejected.
const MaxDeckSize = 30

// TestSeparator is the explicit question-block delimiter. It avoids
// ambiguity with blank-line splitting when question text itself contains
// blank lines.
const TestSeparator = "---NEXT---"

var (
	fenceRe     = regexp.MustCompile("(?m)^```[a-zA-Z]*[ \t]*$\n?")
	dashSepRe   = regexp.MustCompile(`(?m)^-{3,}\s*$`)
	blankSplitRe = regexp.MustCompile(`\n\s*\n`)

	questionMarkerRe = regexp.MustCompile(`(?i)^(?:q|front)\s*[:)]\s*(.*)$`)
	answerMarkerRe   = regexp.MustCompile(`(?i)^(?:a|back)\s*[:)]\s*(.*)$`)
	optionsMarkerRe  = regexp.MustCompile(`(?i)^options\s*[:)]\s*(.*)$`)

	// Option labels may be glued to the preceding word, so the pattern
	// anchors on "X)" rather than on surrounding whitespace.
	optionLabelRe = regexp.MustCompile(`([A-H])\)\s*`)
)

// ParseError reports that model output yielded no usable entries.
type ParseError struct {
	Kind   string // "flashcards" or "test"
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Kind, e.Reason)
}

// ParseFlashcards extracts question/answer pairs from raw model output.
//
// Entries are separated by blank lines or a standalone --- token. Each block
// must contain a line starting with Q:/Front: and a line starting with
// A:/Back: (case-insensitive); blocks missing either marker are discarded.
// The deck is capped at MaxDeckSize by truncation. An empty result is a
// ParseError, never an empty deck.
func ParseFlashcards(raw string) ([]models.Flashcard, error) {
	clean := stripFences(raw)
	clean = dashSepRe.ReplaceAllString(clean, "")

	var cards []models.Flashcard
	for _, block := range splitBlocks(clean) {
		q, okQ := firstMarkerLine(block, questionMarkerRe)
		a, okA := firstMarkerLine(block, answerMarkerRe)
		if !okQ || !okA || q == "" || a == "" {
			continue
		}
		cards = append(cards, models.Flashcard{Q: q, A: a})
		if len(cards) == MaxDeckSize {
			break
		}
	}

	if len(cards) == 0 {
		return nil, &ParseError{Kind: "flashcards", Reason: "no Q/A pairs found"}
	}
	return cards, nil
}

// ParseTest extracts a multiple-choice test from raw model output.
//
// Question blocks are split on the ---NEXT--- token when present, otherwise
// on blank lines. Each block needs Q:, Options:, and A: lines; the options
// line decomposes into labeled choices ("A) ... B) ..."). The A: line is
// kept verbatim even when it matches no parsed option — that mismatch
// surfaces at grading time, so a partially garbled test is still usable for
// review. Blocks lacking any of the three markers are dropped; an empty
// result is a ParseError.
func ParseTest(raw string) (*models.Test, error) {
	clean := stripFences(raw)

	var blocks []string
	if strings.Contains(clean, TestSeparator) {
		blocks = strings.Split(clean, TestSeparator)
	} else {
		blocks = splitBlocks(clean)
	}

	var questions []models.Question
	for _, block := range blocks {
		text, okQ := firstMarkerLine(block, questionMarkerRe)
		optsLine, okO := firstMarkerLine(block, optionsMarkerRe)
		answer, okA := firstMarkerLine(block, answerMarkerRe)
		if !okQ || !okO || !okA || text == "" || answer == "" {
			continue
		}
		options := splitOptions(optsLine)
		if len(options) < 2 {
			continue
		}
		questions = append(questions, models.Question{
			Text:          text,
			Options:       options,
			CorrectAnswer: answer,
		})
	}

	if len(questions) == 0 {
		return nil, &ParseError{Kind: "test", Reason: "no complete question blocks found"}
	}
	return &models.Test{Questions: questions}, nil
}

// stripFences removes Markdown code-fence marker lines while keeping the
// fenced content, so a fully fenced reply still parses.
func stripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

func splitBlocks(s string) []string {
	return blankSplitRe.Split(s, -1)
}

// firstMarkerLine returns the trimmed content of the first line in block
// matching re, where the marker is re's first capture group remainder.
func firstMarkerLine(block string, re *regexp.Regexp) (string, bool) {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// splitOptions decomposes "A) one B) two C) three" into its choice texts.
// The first label may be glued to preceding text; anything before it is
// ignored.
func splitOptions(s string) []string {
	locs := optionLabelRe.FindAllStringIndex(s, -1)
	var opts []string
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if opt := strings.TrimSpace(s[loc[1]:end]); opt != "" {
			opts = append(opts, opt)
		}
	}
	return opts
}
