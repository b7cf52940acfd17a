// Package evidence writes a JSON report for each pipeline run.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/zen-systems/lanepro/pkg/adapter"
)

// RunRecord captures run-level results.
type RunRecord struct {
	ID                string            `json:"id"`
	StartedAt         time.Time         `json:"started_at"`
	SpecificationHash string            `json:"specification_hash"`
	Outcome           string            `json:"outcome"`
	Phase             string            `json:"phase"`
	Score             string            `json:"score,omitempty"`
	Discrepancy       string            `json:"discrepancy,omitempty"`
	FinalOutputRef    string            `json:"final_output_ref,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	Usage             adapter.Usage     `json:"usage"`
	DurationMillis    int64             `json:"duration_ms"`
	ToolVersions      map[string]string `json:"tool_versions,omitempty"`
}

// StageRecord captures one stage's calls.
type StageRecord struct {
	Name           string          `json:"name"`
	Adapter        string          `json:"adapter"`
	Model          string          `json:"model"`
	PromptRef      string          `json:"prompt_ref,omitempty"`
	PromptHash     string          `json:"prompt_hash,omitempty"`
	TemplateHash   string          `json:"template_hash,omitempty"`
	OutputRef      string          `json:"output_ref,omitempty"`
	OutputHash     string          `json:"output_hash,omitempty"`
	Usage          adapter.Usage   `json:"usage"`
	Attempts       []AttemptRecord `json:"attempts"`
	Succeeded      bool            `json:"succeeded"`
	DurationMillis int64           `json:"duration_ms"`
}

// AttemptRecord captures a single model call attempt.
type AttemptRecord struct {
	Attempt        int    `json:"attempt"`
	Succeeded      bool   `json:"succeeded"`
	Error          string `json:"error,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
}

// Writer writes run reports to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new report writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to stages/<stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	path := filepath.Join(w.runDir, "stages", fmt.Sprintf("%s.json", record.Name))
	return writeJSON(path, record)
}

// WriteBlob stores content under blobs/<kind>-<sha256> and returns the path
// relative to the run directory together with the hash.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sha := HashBytes(content)
	rel := filepath.Join("blobs", fmt.Sprintf("%s-%s.txt", sanitizeKind(kind), sha))
	if err := os.WriteFile(filepath.Join(w.runDir, rel), content, 0600); err != nil {
		return "", "", err
	}
	return rel, sha, nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeKind keeps blob names inside blobs/.
func sanitizeKind(kind string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(kind) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "blob"
	}
	return b.String()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
