package main

import (
	"log/slog"
	"os"
	"path/filepath"

	devenv "ccr-client/dev/env"
)

// WriteConfigTemplates writes a template for every config the live tests read, existing
// files are left alone.
func WriteConfigTemplates() error {
	templates := map[string]string{
		devenv.CcrTestConfigFile: devenv.CcrTestConfigTemplate,
	}
	for name, contents := range templates {
		path := filepath.Join("dev", ".state", name)
		_, err := os.Stat(path)
		if err == nil {
			slog.Info("config already exists, skipping", "path", path)
			continue
		}
		if !os.IsNotExist(err) {
			return err
		}
		err = os.WriteFile(path, []byte(contents), 0600)
		if err != nil {
			return err
		}
		slog.Info("wrote config template", "path", path)
	}
	return nil
}

func PrintConfigLocations() {
	slog.Info("live tests read dev/.state/" + devenv.CcrTestConfigFile + ", fill in base_url and credentials (or put them in the .local.json5 override) and run `go test -v ./pkg/ccr/...`. without it the live tests are skipped.")
}
