package extract

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

// convertOffice runs a headless LibreOffice conversion to plain text in
// a temp dir. The timeout grows with file size and is capped; on expiry
// CommandContext kills the converter and empty text is returned, so one
// file can never block the run indefinitely.
func (e *Extractor) convertOffice(ctx context.Context, path string) string {
	timeout := scaledTimeout(fileSize(path), 15*time.Second, 10*time.Second, 120*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpdir, err := os.MkdirTemp("", "kbconvert-*")
	if err != nil {
		e.log.Error("temp dir for conversion", logger.Error(err))
		return ""
	}
	defer os.RemoveAll(tmpdir)

	cmd := exec.CommandContext(ctx, e.cfg.SofficeBin,
		"--headless",
		"--convert-to", "txt:Text",
		"--outdir", tmpdir,
		path,
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.log.Error("office conversion timeout",
				logger.String("file", filepath.Base(path)),
				logger.Duration("timeout", timeout),
			)
		} else {
			e.log.Warn("office conversion failed",
				logger.String("file", filepath.Base(path)),
				logger.Error(err),
			)
		}
		return ""
	}

	out := findConverted(tmpdir, path)
	if out == "" {
		return ""
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return ""
	}
	return string(data)
}

// findConverted locates the produced .txt, preferring the one named
// after the source file; LibreOffice occasionally renames on collision.
func findConverted(tmpdir, src string) string {
	entries, err := os.ReadDir(tmpdir)
	if err != nil {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))

	var first string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		if strings.Contains(strings.ToLower(name), strings.ToLower(base)) {
			return filepath.Join(tmpdir, name)
		}
		if first == "" {
			first = filepath.Join(tmpdir, name)
		}
	}
	return first
}
