//go:build darwin

package installer

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
)

// macOS launches per-user LaunchAgents with RunAtLoad at login.

func (a *Autostart) entryPath(target Target) (string, error) {
	dir := a.options.Directory
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "LaunchAgents")
	}
	return filepath.Join(dir, a.label(target)+".plist"), nil
}

func (a *Autostart) label(target Target) string {
	return a.options.Label + "." + target.Name
}

func (a *Autostart) isRegistered(target Target) (bool, error) {
	path, err := a.entryPath(target)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (a *Autostart) register(target Target) error {
	path, err := a.entryPath(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString(`<plist version="1.0"><dict>` + "\n")
	b.WriteString("<key>Label</key><string>" + escape(a.label(target)) + "</string>\n")
	b.WriteString("<key>ProgramArguments</key><array>\n")
	b.WriteString("<string>" + escape(target.ExecutablePath) + "</string>\n")
	for _, arg := range target.Args {
		b.WriteString("<string>" + escape(arg) + "</string>\n")
	}
	b.WriteString("</array>\n")
	b.WriteString("<key>RunAtLoad</key><true/>\n")
	b.WriteString("</dict></plist>\n")

	return os.WriteFile(path, []byte(b.String()), 0644)
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
