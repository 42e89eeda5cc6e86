package tools

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

// NewTopologyTools returns the diagram-to-config tools.
func NewTopologyTools(p *topology.Pipeline, maxImageDim int) []Tool {
	return []Tool{
		&GenerateTopologyTool{p: p, maxDim: maxImageDim},
		&ExplainTopologyTool{p: p},
	}
}

// GenerateTopologyTool runs the multi-model config pipeline on a diagram image.
type GenerateTopologyTool struct {
	p      *topology.Pipeline
	maxDim int
}

func (t *GenerateTopologyTool) Name() string { return "generate_topology_config" }

func (t *GenerateTopologyTool) Description() string {
	return "Generate a Cisco configuration from a network topology diagram image. " +
		"Two vision models draft independently, cross-review, and a final pass merges them."
}

func (t *GenerateTopologyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"image_b64": map[string]interface{}{
				"type":        "string",
				"description": "Base64-encoded diagram image (PNG, JPEG, GIF or WebP).",
			},
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "What the configuration should achieve.",
			},
		},
		"required": []string{"image_b64", "goal"},
	}
}

func (t *GenerateTopologyTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	goal := stringArg(args, "goal")
	if goal == "" {
		return ErrorResult("goal is required")
	}
	raw, err := base64.StdEncoding.DecodeString(stringArg(args, "image_b64"))
	if err != nil {
		err = fmt.Errorf("decode base64 image: %w", err)
		return ErrorResult(err.Error()).WithError(err)
	}
	diagram, err := topology.LoadDiagram(raw, t.maxDim)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	res, err := t.p.Generate(ctx, diagram, goal)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(res.Final)
}

// ExplainTopologyTool turns a generated config into an instructor-style walkthrough.
type ExplainTopologyTool struct{ p *topology.Pipeline }

func (t *ExplainTopologyTool) Name() string { return "explain_topology_config" }

func (t *ExplainTopologyTool) Description() string {
	return "Explain a generated Cisco configuration section by section."
}

func (t *ExplainTopologyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"config": map[string]interface{}{
				"type":        "string",
				"description": "Configuration text to explain.",
			},
		},
		"required": []string{"config"},
	}
}

func (t *ExplainTopologyTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	config := stringArg(args, "config")
	if config == "" {
		return ErrorResult("config is required")
	}
	out, err := t.p.Explain(ctx, config)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(out)
}
