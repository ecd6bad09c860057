// Package config loads the converter settings from layered INI files:
// a system-wide file overridden by a per-user one. Configuration is
// advisory; any missing file, section or key falls back to the built-in
// defaults with a warning rather than an error.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"
)

// SystemPath is the machine-wide configuration file.
const SystemPath = "/etc/crtwo2fits.conf"

// UserPath returns the per-user configuration file, which overrides
// SystemPath key by key.
func UserPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "crtwo2fits.conf")
}

// Config holds the resolved settings.
type Config struct {
	// DecoderName is the section the external decoder was read from.
	DecoderName string

	// Exec is the external raw converter binary.
	Exec string

	// Command is the invocation template; {exec} and {file} are
	// substituted at run time.
	Command string
}

// Default returns the built-in dcraw configuration.
func Default() *Config {
	return &Config{
		DecoderName: "DCRAW",
		Exec:        "dcraw",
		Command:     "{exec} -t 0 -j -4 -W -D -d -c {file}",
	}
}

// Load reads the given files in order, later ones overriding earlier
// ones. The main section names the decoder section to use:
//
//	[CONFIG]
//	external-decoder = dcraw
//
//	[DCRAW]
//	exec = dcraw
//	command = "{exec} -t 0 -j -4 -W -D -d -c {file}"
//
// With no paths the standard system and user files are consulted.
func Load(log logrus.FieldLogger, paths ...string) *Config {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(paths) == 0 {
		paths = []string{SystemPath}
		if up := UserPath(); up != "" {
			paths = append(paths, up)
		}
	}

	cfg := Default()

	sources := make([]interface{}, len(paths))
	for i, p := range paths {
		sources[i] = p
	}
	file, err := ini.LooseLoad(sources[0], sources[1:]...)
	if err != nil {
		log.WithError(err).Warn("cannot parse configuration, using default settings")
		return cfg
	}

	main, err := file.GetSection("CONFIG")
	if err != nil {
		log.Warn("no CONFIG section found, using default settings")
		return cfg
	}
	if !main.HasKey("external-decoder") {
		log.Warn("no external-decoder configured, using default settings")
		return cfg
	}
	name := strings.ToUpper(main.Key("external-decoder").String())

	dec, err := file.GetSection(name)
	if err != nil {
		log.WithField("section", name).
			Warn("decoder section not found, using default settings")
		return cfg
	}
	execName := dec.Key("exec").String()
	command := unquote(dec.Key("command").String())
	if execName == "" || command == "" {
		log.WithField("section", name).
			Warn("decoder section incomplete, using default settings")
		return cfg
	}

	cfg.DecoderName = name
	cfg.Exec = execName
	// Some configurations write the placeholders shell-style.
	cfg.Command = strings.ReplaceAll(command, "${", "{")
	return cfg
}

func unquote(s string) string {
	if len(s) >= 2 {
		if s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'' {
			return s[1 : len(s)-1]
		}
	}
	return s
}
