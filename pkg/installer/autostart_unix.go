//go:build !windows && !darwin

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Linux and BSD desktops follow the XDG autostart convention: a .desktop entry in
// $XDG_CONFIG_HOME/autostart is launched at login.

func (a *Autostart) entryPath(target Target) string {
	dir := a.options.Directory
	if dir == "" {
		dir = filepath.Join(xdg.ConfigHome, "autostart")
	}
	return filepath.Join(dir, target.Name+".desktop")
}

func (a *Autostart) isRegistered(target Target) (bool, error) {
	_, err := os.Stat(a.entryPath(target))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (a *Autostart) register(target Target) error {
	path := a.entryPath(target)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(desktopEntry(target)), 0644)
}

func desktopEntry(target Target) string {
	exec := make([]string, 0, len(target.Args)+1)
	exec = append(exec, quoteExecArg(target.ExecutablePath))
	for _, arg := range target.Args {
		exec = append(exec, quoteExecArg(arg))
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", target.Name)
	fmt.Fprintf(&b, "Exec=%s\n", strings.Join(exec, " "))
	b.WriteString("Terminal=false\n")
	b.WriteString("X-GNOME-Autostart-enabled=true\n")
	return b.String()
}

func quoteExecArg(arg string) string {
	if !strings.ContainsAny(arg, " \t\"'\\$`") {
		return arg
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", "$", `\$`)
	return `"` + r.Replace(arg) + `"`
}
