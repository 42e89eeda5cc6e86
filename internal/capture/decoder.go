package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/nextlevelbuilder/capclaw/internal/crypto"
)

// ErrDecodeTimeout marks a decode aborted by the configured deadline.
var ErrDecodeTimeout = errors.New("decoder timed out")

// DecodeError wraps any failure of the decode stage: unreadable
// capture, decoder exit, scrub failure, timeout.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return "decode failed"
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Runner executes the decoder subprocess. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, argv []string, stdout io.Writer) error
}

// ExecRunner runs the decoder via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := tail(stderr.String(), 512); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// Decoder turns a capture file into scrubbed JSON at <capture>.json.
type Decoder struct {
	argv    []string
	timeout time.Duration
	runner  Runner
	scrub   *Scrubber
	key     string
}

type DecoderOption func(*Decoder)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) DecoderOption {
	return func(d *Decoder) { d.runner = r }
}

// WithTimeout sets the per-decode deadline.
func WithTimeout(t time.Duration) DecoderOption {
	return func(d *Decoder) { d.timeout = t }
}

// WithEncryptionKey encrypts decoded JSON at rest.
func WithEncryptionKey(key string) DecoderOption {
	return func(d *Decoder) { d.key = key }
}

// NewDecoder parses the decoder command line (shell quoting honored)
// and returns a decoder. The capture path and JSON output flags are
// appended per decode, so "tshark -n -l" becomes
// "tshark -n -l -r <capture> -T json".
func NewDecoder(command string, scrub *Scrubber, opts ...DecoderOption) (*Decoder, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty decoder command")
	}

	d := &Decoder{
		argv:    argv,
		timeout: 120 * time.Second,
		runner:  ExecRunner{},
		scrub:   scrub,
	}
	if d.scrub == nil {
		d.scrub = NewScrubber(nil, nil)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Decode runs the decoder on capturePath, scrubs the JSON output and
// writes it to <capturePath>.json. Returns the JSON path.
func (d *Decoder) Decode(ctx context.Context, capturePath string) (string, error) {
	if _, err := os.Stat(capturePath); err != nil {
		return "", &DecodeError{Msg: "capture file unreadable", Err: err}
	}

	jsonPath := capturePath + ".json"
	argv := append(append([]string{}, d.argv...), "-r", capturePath, "-T", "json")

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var out bytes.Buffer
	start := time.Now()
	if err := d.runner.Run(ctx, argv, &out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &DecodeError{Err: fmt.Errorf("%w after %s", ErrDecodeTimeout, d.timeout)}
		}
		return "", &DecodeError{Msg: "decoder failed", Err: err}
	}

	scrubbed, removed, err := d.scrub.Scrub(out.Bytes())
	if err != nil {
		return "", &DecodeError{Err: err}
	}

	if err := WriteArtifact(jsonPath, scrubbed, d.key); err != nil {
		return "", &DecodeError{Msg: "write decoded JSON", Err: err}
	}

	slog.Info("capture decoded",
		"capture", filepath.Base(capturePath),
		"bytes", out.Len(),
		"scrubbed_fields", removed,
		"duration", time.Since(start).Round(time.Millisecond))
	return jsonPath, nil
}

// WriteArtifact writes a decoded artifact, encrypting when a key is
// set. Files are owner-only: decoded captures may still identify
// hosts and flows even after scrubbing.
func WriteArtifact(path string, data []byte, key string) error {
	enc, err := crypto.EncryptBytes(data, key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, enc, 0o600)
}

// ReadArtifact reads a decoded artifact, decrypting when needed.
func ReadArtifact(path string, key string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptBytes(data, key)
}
