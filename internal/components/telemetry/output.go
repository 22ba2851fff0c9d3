package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes every HTTP exchange into its own file under a directory, this is
// how markup fixtures for the outcome classifiers get captured.
type FilesystemOutput struct {
	directory string
	prefix    string
}

// NewFilesystemOutput creates `dir` if needed and returns an output writing
// "<prefix>-<id>.txt" files into it.
func NewFilesystemOutput(dir, prefix string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir, prefix: prefix}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	filename := filepath.Join(o.directory, fmt.Sprintf("%s-%s.txt", o.prefix, id))
	err := os.WriteFile(filename, []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "file", filename, "err", err)
	}
}
