package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ianisms/ha.ollama.conv.tools/internal/defaults"
	"github.com/ianisms/ha.ollama.conv.tools/internal/prompts"
)

// runInit writes an example config and the embedded prompt templates
// into dir. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing tooledca workspace in %s\n", dir)

	for _, sub := range []string{"db", "prompts"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may hold tokens and secrets.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	for _, lang := range prompts.EmbeddedLanguages() {
		data, err := prompts.Embedded(lang)
		if err != nil {
			return fmt.Errorf("read embedded %s prompts: %w", lang, err)
		}
		path := filepath.Join(dir, "prompts", lang+".json")
		if err := writeIfMissing(w, path, data, 0o644); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to point at your Ollama and Home Assistant instances.")
	fmt.Fprintln(w, "Edit prompts/<lang>.json to change what the model is told.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, reporting what it did to w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
