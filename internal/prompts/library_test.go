package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderAnalysisSystem(t *testing.T) {
	lib := NewLibrary("")
	out, err := lib.Render("analysis/system", map[string]string{"Sample": "frame one frame two"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(out.Text, "\nYou are an expert assistant specialized in analyzing PCAPs.") {
		t.Errorf("unexpected prefix: %q", out.Text[:min(80, len(out.Text))])
	}
	if !strings.Contains(out.Text, "packet_capture_info (sample):\nframe one frame two") {
		t.Errorf("sample not substituted: %q", out.Text)
	}
	if out.System != "" {
		t.Errorf("analysis/system has no system frontmatter, got %q", out.System)
	}
}

func TestRenderReviewSystem(t *testing.T) {
	lib := NewLibrary("")
	out, err := lib.Render("topology/review", map[string]string{
		"Source": "Google Gemini",
		"Config": "hostname R1",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "You are a senior Cisco network engineer reviewing a configuration generated by another AI (Google Gemini)."
	if out.System != want {
		t.Errorf("system = %q, want %q", out.System, want)
	}
	if !strings.Contains(out.Text, "another AI model (Google Gemini)") {
		t.Error("source not substituted in body")
	}
	if !strings.Contains(out.Text, "Here is the original configuration to review and improve:\nhostname R1") {
		t.Error("config not substituted")
	}
}

func TestRenderSynthesize(t *testing.T) {
	lib := NewLibrary("")
	out, err := lib.Render("topology/synthesize", map[string]string{
		"Goal":   "inter-VLAN routing",
		"OpenAI": "config A",
		"Google": "config B",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"\"\"\"\ninter-VLAN routing\n\"\"\"",
		"🔵 Revised OpenAI configuration:\nconfig A",
		"🟢 Revised Gemini configuration:\nconfig B",
		"Now generate the final configuration.",
	} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRenderExplainNoLeadingNewline(t *testing.T) {
	lib := NewLibrary("")
	out, err := lib.Render("topology/explain", map[string]string{"Config": "hostname SW1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(out.Text, "Explain the following configuration:\nhostname SW1") {
		t.Errorf("unexpected text: %q", out.Text)
	}
	if out.System != "You're a Cisco network instructor." {
		t.Errorf("system = %q", out.System)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	lib := NewLibrary("")
	if _, err := lib.Render("no/such", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestOverrideShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "topology"), 0o755); err != nil {
		t.Fatal(err)
	}
	custom := "---\nname: topology/explain\ndescription: custom\nsystem: Custom instructor.\n---\nCustom body {{.Config}}\n"
	if err := os.WriteFile(filepath.Join(dir, "topology", "explain.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir)
	out, err := lib.Render("topology/explain", map[string]string{"Config": "X"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(out.Text, "Custom body X") {
		t.Errorf("override not used: %q", out.Text)
	}
	if out.System != "Custom instructor." {
		t.Errorf("override system not used: %q", out.System)
	}

	// Builtins still resolve for other names.
	if _, err := lib.Render("analysis/system", map[string]string{"Sample": "s"}); err != nil {
		t.Fatalf("builtin fallback: %v", err)
	}
}

func TestInvalidatePicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analysis")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(path, "system.md")
	os.WriteFile(file, []byte("---\nname: analysis/system\n---\nfirst {{.Sample}}\n"), 0o644)

	lib := NewLibrary(dir)
	out, _ := lib.Render("analysis/system", map[string]string{"Sample": "x"})
	if !strings.HasPrefix(out.Text, "first x") {
		t.Fatalf("text = %q", out.Text)
	}

	os.WriteFile(file, []byte("---\nname: analysis/system\n---\nsecond {{.Sample}}\n"), 0o644)

	// Cached until invalidated.
	out, _ = lib.Render("analysis/system", map[string]string{"Sample": "x"})
	if !strings.HasPrefix(out.Text, "first x") {
		t.Fatalf("cache bypassed: %q", out.Text)
	}

	lib.Invalidate()
	out, _ = lib.Render("analysis/system", map[string]string{"Sample": "x"})
	if !strings.HasPrefix(out.Text, "second x") {
		t.Fatalf("invalidate did not reload: %q", out.Text)
	}
}

func TestListIncludesBuiltins(t *testing.T) {
	lib := NewLibrary("")
	infos := lib.List()
	names := make(map[string]string)
	for _, i := range infos {
		names[i.Name] = i.Source
	}
	for _, want := range []string{
		"analysis/system",
		"topology/generate_openai",
		"topology/generate_google",
		"topology/review",
		"topology/synthesize",
		"topology/explain",
	} {
		if names[want] != "builtin" {
			t.Errorf("missing builtin template %s (got %q)", want, names[want])
		}
	}
}
