package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ionbridge/pkg/apperror"
)

// Overwrite selects how FileOutbound handles an existing destination
// file.
type Overwrite string

const (
	OverwriteError     Overwrite = "error"
	OverwriteOverwrite Overwrite = "overwrite"
	OverwriteAppend    Overwrite = "append"
)

// FileOutbound writes payloads to a directory using a filename template.
type FileOutbound struct {
	counters

	filePath       string
	filenameTmpl   string
	overwrite      Overwrite
	tempFileSuffix string

	mu    sync.Mutex
	state State
}

// NewFileOutbound constructs an outbound File adapter from settings.
func NewFileOutbound(settings Settings) *FileOutbound {
	return &FileOutbound{
		filePath:       settings.String("FilePath", "."),
		filenameTmpl:   settings.String("Filename", "%timestamp%.hl7"),
		overwrite:      Overwrite(settings.String("Overwrite", string(OverwriteError))),
		tempFileSuffix: settings.String("TempFileSuffix", ""),
		state:          StateCreated,
	}
}

func (a *FileOutbound) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *FileOutbound) Snapshot() Metrics { return a.counters.snapshot() }

func (a *FileOutbound) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.filePath, 0o755); err != nil {
		return apperror.Wrap(apperror.ConfigurationError, err, "file outbound: cannot create directory "+a.filePath)
	}
	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()
	a.markStarted()
	return nil
}

func (a *FileOutbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
	return nil
}

// renderFilename expands %timestamp%, %date%, %time%, %id%, %type%.
func renderFilename(tmpl, messageType string) string {
	now := time.Now().UTC()
	id := uuid.NewString()[:8]
	sanitizedType := strings.ReplaceAll(messageType, "^", "_")

	r := strings.NewReplacer(
		"%timestamp%", now.Format("20060102_150405.000000"),
		"%date%", now.Format("20060102"),
		"%time%", now.Format("150405"),
		"%id%", id,
		"%type%", sanitizedType,
	)
	return r.Replace(tmpl)
}

// Send writes payload to a file whose name is rendered from the
// configured template and messageType.
func (a *FileOutbound) Send(ctx context.Context, payload []byte, messageType string) error {
	name := renderFilename(a.filenameTmpl, messageType)
	dest := filepath.Join(a.filePath, name)

	if a.overwrite == OverwriteAppend {
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return apperror.Wrap(apperror.SendError, err, "file outbound: open for append failed")
		}
		defer f.Close()
		n, err := f.Write(payload)
		a.bytesSent.Add(int64(n))
		if err != nil {
			a.errorsTotal.Add(1)
			return apperror.Wrap(apperror.SendError, err, "file outbound: append write failed")
		}
		a.recordActivity()
		return nil
	}

	if a.overwrite == OverwriteError {
		if _, err := os.Stat(dest); err == nil {
			return apperror.New(apperror.SendError, fmt.Sprintf("file outbound: %s already exists", dest))
		}
	}

	writePath := dest
	if a.tempFileSuffix != "" {
		writePath = dest + a.tempFileSuffix
	}
	if err := os.WriteFile(writePath, payload, 0o644); err != nil {
		a.errorsTotal.Add(1)
		return apperror.Wrap(apperror.SendError, err, "file outbound: write failed")
	}
	if writePath != dest {
		if err := os.Rename(writePath, dest); err != nil {
			a.errorsTotal.Add(1)
			return apperror.Wrap(apperror.SendError, err, "file outbound: rename failed")
		}
	}
	a.bytesSent.Add(int64(len(payload)))
	a.recordActivity()
	return nil
}
