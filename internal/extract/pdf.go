package extract

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

const pdfPageWorkers = 4

// extractPDF tries the in-process parser first and shells out to
// pdftotext when it fails. Both strategies degrade to empty text.
func (e *Extractor) extractPDF(ctx context.Context, path string) string {
	text, err := extractPDFNative(ctx, path)
	if err == nil && text != "" {
		return text
	}
	if err != nil {
		e.log.Debug("native pdf parse failed, trying pdftotext",
			logger.String("file", filepath.Base(path)),
			logger.Error(err),
		)
	}
	return e.pdftotextSafe(ctx, path)
}

func extractPDFNative(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]string, numPages+1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pdfPageWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page := r.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			// A single bad page doesn't sink the document.
			text, err := page.GetPlainText(nil)
			if err != nil {
				return nil
			}
			pages[pageNum] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, p := range pages {
		if p != "" {
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// pdftotextSafe runs the poppler converter with a timeout scaled to the
// file size, so a corrupt or enormous PDF never stalls the run. On
// expiry the spawned process is killed and empty text is returned.
func (e *Extractor) pdftotextSafe(ctx context.Context, path string) string {
	timeout := scaledTimeout(fileSize(path), 10*time.Second, 5*time.Second, 60*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, e.cfg.PdftotextBin, "-layout", "-nopgbrk", path, "-")
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.log.Error("pdftotext timeout",
				logger.String("file", filepath.Base(path)),
				logger.Duration("timeout", timeout),
			)
		} else {
			e.log.Warn("pdftotext failed",
				logger.String("file", filepath.Base(path)),
				logger.Error(err),
			)
		}
		return ""
	}
	return stdout.String()
}

// scaledTimeout returns base plus perMB for every started megabyte,
// clamped to max. Size zero (unreadable stat) gets the base.
func scaledTimeout(size int64, base, perMB, max time.Duration) time.Duration {
	const mb = 1 << 20
	t := base + time.Duration((size+mb-1)/mb)*perMB
	if t > max {
		return max
	}
	return t
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
