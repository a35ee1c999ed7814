package config

import (
	"bufio"
	"io"
	"strings"

	"pipeview/internal/pipe"
)

// IniFile maps section names to their key/value pairs. Keys that appear
// before any section header land in the "" section.
type IniFile struct {
	Sections map[string]map[string]string

	lines map[[2]string]pipe.LineIndex
}

// NewIniFile creates an empty IniFile.
func NewIniFile() *IniFile {
	return &IniFile{
		Sections: make(map[string]map[string]string),
		lines:    make(map[[2]string]pipe.LineIndex),
	}
}

// ParseIni reads INI text from r. Blank lines and lines starting with ';'
// or '#' are skipped, as are lines that are neither a header nor key=value.
// Section and key names are lower-cased.
func ParseIni(r io.Reader) (*IniFile, error) {
	ini := NewIniFile()
	scanner := bufio.NewScanner(r)
	section := ""
	ini.Sections[section] = make(map[string]string)

	var n pipe.LineIndex
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := ini.Sections[section]; !ok {
				ini.Sections[section] = make(map[string]string)
			}
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		key = strings.ToLower(strings.TrimSpace(key))
		ini.Sections[section][key] = val
		ini.lines[[2]string{section, key}] = n
	}
	return ini, scanner.Err()
}

// Section returns the key/value map for name, or nil if absent.
func (ini *IniFile) Section(name string) map[string]string {
	return ini.Sections[name]
}

// Line returns the 1-based line that last set section/key, or
// pipe.BadLineIndex when the key was not read from text.
func (ini *IniFile) Line(section, key string) pipe.LineIndex {
	if n, ok := ini.lines[[2]string{section, key}]; ok {
		return n
	}
	return pipe.BadLineIndex
}

// Lookup returns the value stored under section/key.
func (ini *IniFile) Lookup(section, key string) (string, bool) {
	s := ini.Sections[section]
	if s == nil {
		return "", false
	}
	v, ok := s[key]
	return v, ok
}
