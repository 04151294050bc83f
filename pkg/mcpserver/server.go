// Package mcpserver exposes the user data manager as MCP tools.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/wilhg/contentstate/pkg/store"
	"github.com/wilhg/contentstate/pkg/userdata"
)

// MCP has no header channel, so every tool takes the user id explicitly.
func principal(userID string) store.User { return store.User{ID: userID} }

type LoadArgs struct {
	UserID       string `json:"user_id" jsonschema:"id of the user the state belongs to"`
	ContentID    string `json:"content_id"`
	DataType     string `json:"data_type"`
	SubContentID string `json:"sub_content_id,omitempty" jsonschema:"nested item id, defaults to 0 for the top level"`
}

type LoadResult struct {
	Found bool   `json:"found"`
	State string `json:"state"`
}

type SaveArgs struct {
	UserID       string `json:"user_id" jsonschema:"id of the user the state belongs to"`
	ContentID    string `json:"content_id"`
	DataType     string `json:"data_type"`
	SubContentID string `json:"sub_content_id,omitempty"`
	Data         string `json:"data,omitempty" jsonschema:"opaque state blob"`
	Invalidate   any    `json:"invalidate" jsonschema:"boolean; true discards all of the user's state for the content"`
	Preload      any    `json:"preload" jsonschema:"boolean; include this record when content is delivered"`
}

type Ack struct {
	Success bool `json:"success"`
}

type AggregateArgs struct {
	UserID    string `json:"user_id" jsonschema:"id of the user the state belongs to"`
	ContentID string `json:"content_id"`
}

type AggregateResult struct {
	Enabled bool                     `json:"enabled"`
	Entries []userdata.DeliveryEntry `json:"entries"`
}

type CompletionArgs struct {
	UserID    string `json:"user_id" jsonschema:"id of the user the state belongs to"`
	ContentID string `json:"content_id"`
	Score     int    `json:"score"`
	MaxScore  int    `json:"max_score"`
	Opened    int64  `json:"opened,omitempty" jsonschema:"unix seconds"`
	Finished  int64  `json:"finished,omitempty" jsonschema:"unix seconds"`
	Time      int64  `json:"time,omitempty" jsonschema:"seconds spent"`
}

type ListCompletionsResult struct {
	Enabled     bool                   `json:"enabled"`
	Completions []store.FinishedRecord `json:"completions"`
}

// Server wraps an MCP server with the user data tools registered.
type Server struct {
	srv *mcp.Server
	mgr *userdata.Manager
	log zerolog.Logger
}

// New registers the tools against mgr.
func New(mgr *userdata.Manager, version string, log zerolog.Logger) (*Server, error) {
	s := &Server{
		srv: mcp.NewServer(&mcp.Implementation{Name: "contentstate", Version: version}, nil),
		mgr: mgr,
		log: log.With().Str("component", "mcpserver").Logger(),
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Run serves over stdio until ctx is done or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

func schemaFor[T any]() (*jsonschema.Schema, error) {
	return jsonschema.For[T](nil)
}

func (s *Server) register() error {
	loadIn, err := schemaFor[LoadArgs]()
	if err != nil {
		return fmt.Errorf("mcpserver: load schema: %w", err)
	}
	saveIn, err := schemaFor[SaveArgs]()
	if err != nil {
		return fmt.Errorf("mcpserver: save schema: %w", err)
	}
	aggIn, err := schemaFor[AggregateArgs]()
	if err != nil {
		return fmt.Errorf("mcpserver: aggregate schema: %w", err)
	}
	complIn, err := schemaFor[CompletionArgs]()
	if err != nil {
		return fmt.Errorf("mcpserver: completion schema: %w", err)
	}

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "load_user_data",
		Description: "Load one piece of saved user state for a content item.",
		InputSchema: loadIn,
	}, s.load)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "save_user_data",
		Description: "Save user state for a content item, or discard all of it with invalidate=true.",
		InputSchema: saveIn,
	}, s.save)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "aggregate_user_data",
		Description: "List the user's preload state for a content item, ordered for delivery.",
		InputSchema: aggIn,
	}, s.aggregate)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "record_completion",
		Description: "Record that the user finished a content item.",
		InputSchema: complIn,
	}, s.recordCompletion)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "list_completions",
		Description: "List recorded completions for a content item.",
		InputSchema: aggIn,
	}, s.listCompletions)
	return nil
}

func (s *Server) called(tool, userID, contentID string) {
	s.log.Debug().Str("tool", tool).Str("user_id", userID).Str("content_id", contentID).Msg("MCP tool call received")
}

func (s *Server) load(ctx context.Context, _ *mcp.CallToolRequest, in LoadArgs) (*mcp.CallToolResult, LoadResult, error) {
	s.called("load_user_data", in.UserID, in.ContentID)
	rec, ok, err := s.mgr.LoadUserData(ctx, in.ContentID, in.DataType, in.SubContentID, principal(in.UserID))
	if err != nil {
		return nil, LoadResult{}, err
	}
	return nil, LoadResult{Found: ok, State: rec.UserState}, nil
}

func (s *Server) save(ctx context.Context, _ *mcp.CallToolRequest, in SaveArgs) (*mcp.CallToolResult, Ack, error) {
	s.called("save_user_data", in.UserID, in.ContentID)
	err := s.mgr.SaveUserData(ctx, userdata.SaveInput{
		ContentID:    in.ContentID,
		DataType:     in.DataType,
		SubContentID: in.SubContentID,
		UserState:    in.Data,
		Invalidate:   in.Invalidate,
		Preload:      in.Preload,
		User:         principal(in.UserID),
	})
	if err != nil {
		return nil, Ack{}, err
	}
	return nil, Ack{Success: true}, nil
}

func (s *Server) aggregate(ctx context.Context, _ *mcp.CallToolRequest, in AggregateArgs) (*mcp.CallToolResult, AggregateResult, error) {
	s.called("aggregate_user_data", in.UserID, in.ContentID)
	entries, ok, err := s.mgr.AggregateForDelivery(ctx, in.ContentID, principal(in.UserID))
	if err != nil {
		return nil, AggregateResult{}, err
	}
	if entries == nil {
		entries = []userdata.DeliveryEntry{}
	}
	return nil, AggregateResult{Enabled: ok, Entries: entries}, nil
}

func (s *Server) recordCompletion(ctx context.Context, _ *mcp.CallToolRequest, in CompletionArgs) (*mcp.CallToolResult, Ack, error) {
	s.called("record_completion", in.UserID, in.ContentID)
	err := s.mgr.RecordCompletion(ctx, userdata.FinishedInput{
		ContentID:         in.ContentID,
		Score:             in.Score,
		MaxScore:          in.MaxScore,
		OpenedTimestamp:   in.Opened,
		FinishedTimestamp: in.Finished,
		CompletionTime:    in.Time,
		User:              principal(in.UserID),
	})
	if err != nil {
		return nil, Ack{}, err
	}
	return nil, Ack{Success: true}, nil
}

func (s *Server) listCompletions(ctx context.Context, _ *mcp.CallToolRequest, in AggregateArgs) (*mcp.CallToolResult, ListCompletionsResult, error) {
	s.called("list_completions", in.UserID, in.ContentID)
	recs, ok, err := s.mgr.ListCompletions(ctx, in.ContentID, principal(in.UserID))
	if err != nil {
		return nil, ListCompletionsResult{}, err
	}
	if recs == nil {
		recs = []store.FinishedRecord{}
	}
	return nil, ListCompletionsResult{Enabled: ok, Completions: recs}, nil
}
