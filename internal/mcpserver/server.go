// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the study state as tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quizmate/quizmate/internal/artifact"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/state"
)

// Server wraps the MCP server with study tools.
type Server struct {
	mcp   *server.MCPServer
	store *state.Store
}

// New creates a new MCP server with all study tools registered.
func New(store *state.Store) *Server {
	s := &Server{store: store}

	s.mcp = server.NewMCPServer(
		"QuizMate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_subjects",
		mcp.WithDescription("List all study subjects with their identifiers and chat counts."),
	), s.listSubjects)

	s.mcp.AddTool(mcp.NewTool("list_chats",
		mcp.WithDescription("List the chats of a subject."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject identifier")),
	), s.listChats)

	s.mcp.AddTool(mcp.NewTool("read_notes",
		mcp.WithDescription("Read the generated study notes of a chat."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject identifier")),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.readNotes)

	s.mcp.AddTool(mcp.NewTool("list_flashcards",
		mcp.WithDescription("List the flashcard deck of a chat."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject identifier")),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.listFlashcards)

	s.mcp.AddTool(mcp.NewTool("get_test",
		mcp.WithDescription("Get the active multiple-choice test of a chat, including the correct answers."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject identifier")),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.getTest)

	s.mcp.AddTool(mcp.NewTool("grade_test",
		mcp.WithDescription("Grade answers against the active test of a chat. "+
			"Answers are a JSON object mapping question index (0-based) to the selected option text."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject identifier")),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
		mcp.WithString("answers", mcp.Required(), mcp.Description(`JSON object, e.g. {"0": "4", "1": "Paris"}`)),
	), s.gradeTest)

	// Resource: the reply protocols the artifact parsers accept.
	s.mcp.AddResource(
		mcp.NewResource("quizmate://artifact-formats", "Artifact Reply Formats",
			mcp.WithResourceDescription("The Q:/A: flashcard protocol and the Q:/Options:/A: test protocol."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readArtifactFormatsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listSubjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type row struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Chats int    `json:"chats"`
	}
	subjects := s.store.Subjects()
	rows := make([]row, len(subjects))
	for i, sub := range subjects {
		rows[i] = row{ID: sub.ID, Name: sub.Name, Icon: sub.Icon, Chats: len(sub.Chats)}
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subjectID, err := req.RequireString("subject_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sub, ok := s.store.Subject(subjectID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("subject not found: %s", subjectID)), nil
	}
	type row struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Messages   int    `json:"messages"`
		HasNotes   bool   `json:"hasNotes"`
		Flashcards int    `json:"flashcards"`
		HasTest    bool   `json:"hasTest"`
	}
	rows := make([]row, len(sub.Chats))
	for i, c := range sub.Chats {
		rows[i] = row{
			ID:         c.ID,
			Name:       c.Name,
			Messages:   len(c.Messages),
			HasNotes:   c.Notes != nil,
			Flashcards: len(c.Flashcards),
			HasTest:    c.ActiveTest() != nil,
		}
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, result := s.requireChat(req)
	if result != nil {
		return result, nil
	}
	if chat.Notes == nil {
		return mcp.NewToolResultError("no notes generated for this chat yet"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n%s", chat.Notes.Title, chat.Notes.Content)), nil
}

func (s *Server) listFlashcards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, result := s.requireChat(req)
	if result != nil {
		return result, nil
	}
	if len(chat.Flashcards) == 0 {
		return mcp.NewToolResultError("no flashcards generated for this chat yet"), nil
	}
	var b strings.Builder
	for _, card := range chat.Flashcards {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", card.Q, card.A)
	}
	return mcp.NewToolResultText(strings.TrimSpace(b.String())), nil
}

func (s *Server) getTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, result := s.requireChat(req)
	if result != nil {
		return result, nil
	}
	test := chat.ActiveTest()
	if test == nil {
		return mcp.NewToolResultError("no test generated for this chat yet"), nil
	}
	out, _ := json.MarshalIndent(test, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) gradeTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, result := s.requireChat(req)
	if result != nil {
		return result, nil
	}
	raw, err := req.RequireString("answers")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	test := chat.ActiveTest()
	if test == nil {
		return mcp.NewToolResultError("no test generated for this chat yet"), nil
	}

	var byKey map[string]string
	if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid answers JSON: %v", err)), nil
	}
	answers := make(map[int]string, len(byKey))
	for k, v := range byKey {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid question index: %q", k)), nil
		}
		answers[idx] = v
	}

	graded := artifact.Grade(test, answers)
	out, _ := json.MarshalIndent(graded, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readArtifactFormatsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "quizmate://artifact-formats",
			MIMEType: "text/markdown",
			Text:     ArtifactFormats,
		},
	}, nil
}

func (s *Server) requireChat(req mcp.CallToolRequest) (models.Chat, *mcp.CallToolResult) {
	subjectID, err := req.RequireString("subject_id")
	if err != nil {
		return models.Chat{}, mcp.NewToolResultError(err.Error())
	}
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return models.Chat{}, mcp.NewToolResultError(err.Error())
	}
	chat, ok := s.store.Chat(subjectID, chatID)
	if !ok {
		return models.Chat{}, mcp.NewToolResultError(fmt.Sprintf("chat not found: %s/%s", subjectID, chatID))
	}
	return chat, nil
}
