package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const decodedFixture = `[
  {
    "_source": {
      "layers": {
        "frame": {"frame.number": "1"},
        "ip": {"ip.src": "10.0.0.1", "ip.dst": "10.0.0.2"},
        "tcp": {"tcp.srcport": "52100", "tcp.dstport": "443"}
      }
    }
  },
  {
    "_source": {
      "layers": {
        "frame": {"frame.number": "2"},
        "ip": {"ip.src": "10.0.0.2", "ip.dst": "10.0.0.1"},
        "tcp": {"tcp.srcport": "443", "tcp.dstport": "52100"},
        "data": {"data.len": "4"}
      }
    }
  },
  {
    "_source": {
      "layers": {
        "frame": {"frame.number": "3"},
        "ip": {"ip.src": "10.0.0.1", "ip.dst": "8.8.8.8"},
        "udp": {"udp.srcport": "5353", "udp.dstport": "53"},
        "dns": {"dns.qry.name": "example.org"}
      }
    }
  }
]`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild(t *testing.T) {
	jsonPath := writeFixture(t, decodedFixture)
	indexDir := filepath.Join(t.TempDir(), "index_abc")

	res, err := Build(context.Background(), BuildOptions{
		JSONPath:     jsonPath,
		IndexDir:     indexDir,
		Embedder:     stubEmbedder{},
		Percentile:   95,
		PrimingUnits: 5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.FrameCount != 3 {
		t.Errorf("frames = %d, want 3", res.FrameCount)
	}
	if res.ChunkCount < 1 {
		t.Errorf("chunks = %d, want >= 1", res.ChunkCount)
	}
	if !strings.Contains(res.Sample, "ip.src") {
		t.Errorf("sample missing frame content: %q", res.Sample)
	}
	if strings.Contains(res.Sample, "data.len") {
		t.Errorf("sample contains bulk data layer: %q", res.Sample)
	}

	s, err := Open(indexDir)
	if err != nil {
		t.Fatalf("Open built index: %v", err)
	}
	defer s.Close()
	n, _ := s.Count(context.Background())
	if n != res.ChunkCount {
		t.Errorf("stored %d chunks, result says %d", n, res.ChunkCount)
	}
	fc, _ := s.GetMeta(context.Background(), MetaFrameCount)
	if fc != "3" {
		t.Errorf("frame_count meta = %q, want 3", fc)
	}
}

func TestBuildEmptyCapture(t *testing.T) {
	jsonPath := writeFixture(t, "[]")
	_, err := Build(context.Background(), BuildOptions{
		JSONPath: jsonPath,
		IndexDir: filepath.Join(t.TempDir(), "idx"),
		Embedder: stubEmbedder{},
	})
	var ie *IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	if ie.Error() != "No documents generated from the PCAP JSON." {
		t.Fatalf("message = %q", ie.Error())
	}
}

func TestBuildMissingJSON(t *testing.T) {
	_, err := Build(context.Background(), BuildOptions{
		JSONPath: filepath.Join(t.TempDir(), "nope.json"),
		IndexDir: filepath.Join(t.TempDir(), "idx"),
		Embedder: stubEmbedder{},
	})
	var ie *IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
}

func TestBuildUnparsableJSON(t *testing.T) {
	jsonPath := writeFixture(t, "{broken")
	_, err := Build(context.Background(), BuildOptions{
		JSONPath: jsonPath,
		IndexDir: filepath.Join(t.TempDir(), "idx"),
		Embedder: stubEmbedder{},
	})
	var ie *IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
}
