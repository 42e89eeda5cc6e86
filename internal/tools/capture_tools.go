package tools

import (
	"context"

	"github.com/nextlevelbuilder/capclaw/internal/session"
)

// The capture tools wrap the session manager's pipeline operations.
// Names, argument names and response strings are the tool contract;
// clients script against them.

// NewCaptureTools returns the six capture-session tools in call order.
func NewCaptureTools(m *session.Manager) []Tool {
	return []Tool{
		&NewSessionTool{m: m},
		&UploadPCAPTool{m: m},
		&ConvertToJSONTool{m: m},
		&IndexPCAPTool{m: m},
		&AnalyzePCAPTool{m: m},
		&CleanupTool{m: m},
	}
}

func sessionIDSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session identifier from new_session.",
	}
}

// NewSessionTool creates analysis sessions.
type NewSessionTool struct{ m *session.Manager }

func (t *NewSessionTool) Name() string { return "new_session" }

func (t *NewSessionTool) Description() string {
	return "Create a new analysis session and return its session_id."
}

func (t *NewSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *NewSessionTool) Execute(ctx context.Context, _ map[string]interface{}) *Result {
	id, err := t.m.NewSession(ctx)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(id)
}

// UploadPCAPTool stores a base64-encoded capture in a session.
type UploadPCAPTool struct{ m *session.Manager }

func (t *UploadPCAPTool) Name() string { return "upload_pcap_base64" }

func (t *UploadPCAPTool) Description() string {
	return "Upload a PCAP/PCAPNG (base64 string). Returns the server-local capture path. " +
		"Base64 adds ~33% overhead; the server enforces its configured upload limit."
}

func (t *UploadPCAPTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema(),
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Original capture filename; only the basename is kept.",
			},
			"data_b64": map[string]interface{}{
				"type":        "string",
				"description": "Base64-encoded capture bytes.",
			},
		},
		"required": []string{"session_id", "filename", "data_b64"},
	}
}

func (t *UploadPCAPTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filename := stringArg(args, "filename")
	data := stringArg(args, "data_b64")
	if filename == "" || data == "" {
		return ErrorResult("filename and data_b64 are required")
	}
	path, err := t.m.Upload(ctx, stringArg(args, "session_id"), filename, data)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(path)
}

// ConvertToJSONTool decodes the uploaded capture.
type ConvertToJSONTool struct{ m *session.Manager }

func (t *ConvertToJSONTool) Name() string { return "convert_to_json" }

func (t *ConvertToJSONTool) Description() string {
	return "Convert the uploaded PCAP to JSON via the decoder and scrub payloads. " +
		"Returns the server-local JSON path."
}

func (t *ConvertToJSONTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema(),
		},
		"required": []string{"session_id"},
	}
}

func (t *ConvertToJSONTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := t.m.Decode(ctx, stringArg(args, "session_id"))
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(path)
}

// IndexPCAPTool builds the session's persisted semantic index.
type IndexPCAPTool struct{ m *session.Manager }

func (t *IndexPCAPTool) Name() string { return "index_pcap" }

func (t *IndexPCAPTool) Description() string {
	return "Build embeddings, split into semantic chunks and persist the session index. " +
		"Returns a short summary of index stats."
}

func (t *IndexPCAPTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema(),
		},
		"required": []string{"session_id"},
	}
}

func (t *IndexPCAPTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	summary, err := t.m.Index(ctx, stringArg(args, "session_id"))
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(summary)
}

// AnalyzePCAPTool answers questions against the indexed capture.
type AnalyzePCAPTool struct{ m *session.Manager }

func (t *AnalyzePCAPTool) Name() string { return "analyze_pcap" }

func (t *AnalyzePCAPTool) Description() string {
	return "Ask a question against the indexed PCAP (retrieval over the session index)."
}

func (t *AnalyzePCAPTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema(),
			"question": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language question about the capture.",
			},
		},
		"required": []string{"session_id", "question"},
	}
}

func (t *AnalyzePCAPTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	question := stringArg(args, "question")
	if question == "" {
		return ErrorResult("question is required")
	}
	answer, err := t.m.Ask(ctx, stringArg(args, "session_id"), question)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(answer)
}

// CleanupTool deletes session artifacts.
type CleanupTool struct{ m *session.Manager }

func (t *CleanupTool) Name() string { return "cleanup" }

func (t *CleanupTool) Description() string {
	return "Delete session artifacts."
}

func (t *CleanupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema(),
		},
		"required": []string{"session_id"},
	}
}

func (t *CleanupTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	out, err := t.m.Cleanup(ctx, stringArg(args, "session_id"))
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(out)
}
