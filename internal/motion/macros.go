package motion

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MacroError marks a macro that could not be loaded or executed.
type MacroError struct {
	Name string
	Err  error
}

func (e *MacroError) Error() string {
	return fmt.Sprintf("macro %q: %v", e.Name, e.Err)
}

func (e *MacroError) Unwrap() error {
	return e.Err
}

// LoadMacro reads a G-code macro file and strips blank lines and comments.
// Paths resolve relative to the recipe directory.
func LoadMacro(baseDir, name, file string) ([]string, error) {
	if file == "" {
		return nil, &MacroError{Name: name, Err: fmt.Errorf("no file configured")}
	}

	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &MacroError{Name: name, Err: fmt.Errorf("failed to open %s: %w", path, err)}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "(") || strings.HasPrefix(line, ";") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &MacroError{Name: name, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}

	return lines, nil
}
