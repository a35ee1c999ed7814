// Package config loads pipeview settings from an INI file.
//
//	[parser]
//	o3_margin = 10000
//	flex_margin = 50000
//	flex_retire_offset = 0
//	classify_lines = 50
//	max_diags = 1000
//	max_line_bytes = 1048576
//
//	[server]
//	listen = :5000
//	max_upload_bytes = 268435456
//
//	[log]
//	level = info
//
// Unknown sections and keys are ignored.
package config

import (
	"fmt"
	"os"
	"strconv"

	"pipeview/internal/common"
	"pipeview/internal/decoder"
	"pipeview/internal/linescan"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

// Parser holds the decoder tuning knobs.
type Parser struct {
	O3Margin         pipe.Tick
	FlexMargin       pipe.Tick
	FlexRetireOffset pipe.Tick
	ClassifyLines    int
	MaxDiags         int
	MaxLineBytes     int
}

// Server holds the HTTP front-end settings.
type Server struct {
	Listen         string
	MaxUploadBytes int64
}

// Config is the full settings tree.
type Config struct {
	Parser   Parser
	Server   Server
	LogLevel common.Severity
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Parser: Parser{
			O3Margin:      pipe.O3Margin,
			FlexMargin:    pipe.FlexMargin,
			ClassifyLines: pipe.ClassifyLineLimit,
			MaxDiags:      common.DefaultMaxDiags,
			MaxLineBytes:  linescan.DefaultMaxLineBytes,
		},
		Server: Server{
			Listen:         ":5000",
			MaxUploadBytes: 256 << 20,
		},
		LogLevel: common.SeverityInfo,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, common.NewErrorMsg(pipe.ErrSevError, pipe.ErrConfigParse, err.Error())
	}
	defer f.Close()

	ini, err := ParseIni(f)
	if err != nil {
		return cfg, common.NewErrorMsg(pipe.ErrSevError, pipe.ErrConfigParse,
			fmt.Sprintf("%s: %v", path, err))
	}
	if err := cfg.Apply(ini); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Apply overlays the values found in ini onto c.
func (c *Config) Apply(ini *IniFile) error {
	a := applier{ini: ini}

	a.tick("parser", "o3_margin", &c.Parser.O3Margin, 1)
	a.tick("parser", "flex_margin", &c.Parser.FlexMargin, 1)
	a.tick("parser", "flex_retire_offset", &c.Parser.FlexRetireOffset, 0)
	a.integer("parser", "classify_lines", &c.Parser.ClassifyLines)
	a.integer("parser", "max_diags", &c.Parser.MaxDiags)
	a.integer("parser", "max_line_bytes", &c.Parser.MaxLineBytes)

	if v, ok := ini.Lookup("server", "listen"); ok && v != "" {
		c.Server.Listen = v
	}
	a.size("server", "max_upload_bytes", &c.Server.MaxUploadBytes)

	if v, ok := ini.Lookup("log", "level"); ok && a.err == nil {
		sev, err := common.ParseSeverity(v)
		if err != nil {
			a.err = keyError(ini, "log", "level", v)
		} else {
			c.LogLevel = sev
		}
	}
	return a.err
}

// DecoderOptions converts the parser settings into decoder options for w.
func (c Config) DecoderOptions(w window.Window, log common.Logger) decoder.Options {
	return decoder.Options{
		Window:           w,
		O3Margin:         c.Parser.O3Margin,
		FlexMargin:       c.Parser.FlexMargin,
		FlexRetireOffset: c.Parser.FlexRetireOffset,
		ClassifyLines:    c.Parser.ClassifyLines,
		MaxLineBytes:     c.Parser.MaxLineBytes,
		MaxDiags:         c.Parser.MaxDiags,
		Logger:           log,
	}
}

// applier records the first bad value it meets.
type applier struct {
	ini *IniFile
	err error
}

func (a *applier) tick(section, key string, dst *pipe.Tick, min int64) {
	var v int64
	if a.parse(section, key, &v) {
		if v < min {
			a.err = keyError(a.ini, section, key, strconv.FormatInt(v, 10))
			return
		}
		*dst = pipe.Tick(v)
	}
}

func (a *applier) integer(section, key string, dst *int) {
	var v int64
	if a.parse(section, key, &v) {
		if v <= 0 {
			a.err = keyError(a.ini, section, key, strconv.FormatInt(v, 10))
			return
		}
		*dst = int(v)
	}
}

func (a *applier) size(section, key string, dst *int64) {
	var v int64
	if a.parse(section, key, &v) {
		if v <= 0 {
			a.err = keyError(a.ini, section, key, strconv.FormatInt(v, 10))
			return
		}
		*dst = v
	}
}

func (a *applier) parse(section, key string, dst *int64) bool {
	if a.err != nil {
		return false
	}
	s, ok := a.ini.Lookup(section, key)
	if !ok {
		return false
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		a.err = keyError(a.ini, section, key, s)
		return false
	}
	*dst = v
	return true
}

func keyError(ini *IniFile, section, key, val string) error {
	return common.NewErrorWithIdxMsg(pipe.ErrSevError, pipe.ErrConfigParse, ini.Line(section, key),
		fmt.Sprintf("[%s] %s: invalid value %q", section, key, val))
}
