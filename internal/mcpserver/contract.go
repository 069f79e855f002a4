package mcpserver

// ArtifactFormats is the canonical description of the plain-text reply
// protocols the artifact parsers accept. Exposed as an MCP resource so
// integrating models can produce parseable replies.
const ArtifactFormats = `# Artifact Reply Formats

## Flashcards

Flashcard blocks are separated by blank lines (or lines of three or more
dashes). Each block carries a question marker and an answer marker:

    Q: What is 2+2?
    A: 4

    Q: What is the capital of France?
    A: Paris

"Front:" / "Back:" are accepted as synonyms of "Q:" / "A:". Markers are
case-insensitive and may use ")" instead of ":". Blocks missing either
marker are dropped; a deck is capped at 30 cards.

## Tests

Question blocks are separated by ---NEXT--- lines (blank lines also work).
Each block:

    Q: What is the Pythagorean theorem?
    Options: A) a^2 + b^2 = c^2 B) a + b = c C) a^2 - b^2 = c^2 D) a * b = c
    A: a^2 + b^2 = c^2

Option labels run A) through H). A question needs at least two options to
be kept. The A: line holds the correct option text verbatim.

Markdown code fences around either artifact are stripped before parsing.
`
