//go:build windows

package installer

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf16"
)

// Windows registers a Task Scheduler task with a logon trigger through
// schtasks, which wants the task definition as UTF-16 XML.

const taskTemplate = `<?xml version="1.0" encoding="UTF-16"?>
<Task version="1.2" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <RegistrationInfo>
    <Description>%s</Description>
  </RegistrationInfo>
  <Triggers>
    <LogonTrigger>
      <Enabled>true</Enabled>
    </LogonTrigger>
  </Triggers>
  <Principals>
    <Principal id="Author">
      <LogonType>InteractiveToken</LogonType>
      <RunLevel>LeastPrivilege</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <MultipleInstancesPolicy>IgnoreNew</MultipleInstancesPolicy>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
    <ExecutionTimeLimit>PT0S</ExecutionTimeLimit>
    <Enabled>true</Enabled>
  </Settings>
  <Actions Context="Author">
    <Exec>
      <Command>%s</Command>
      <Arguments>%s</Arguments>
      <WorkingDirectory>%s</WorkingDirectory>
    </Exec>
  </Actions>
</Task>
`

func (a *Autostart) isRegistered(target Target) (bool, error) {
	cmd := exec.Command("schtasks", "/Query", "/TN", target.Name)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Autostart) register(target Target) error {
	xmlPath := filepath.Join(filepath.Dir(target.ExecutablePath), target.Name+".task.xml")

	definition := fmt.Sprintf(taskTemplate,
		escape("SpaceTraveler service "+target.Name),
		escape(target.ExecutablePath),
		escape(strings.Join(target.Args, " ")),
		escape(filepath.Dir(target.ExecutablePath)),
	)
	if err := os.WriteFile(xmlPath, encodeUTF16(definition), 0644); err != nil {
		return err
	}

	cmd := exec.Command("schtasks", "/Create", "/TN", target.Name, "/XML", xmlPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("schtasks /Create failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// encodeUTF16 encodes s as little-endian UTF-16 with a byte order mark.
func encodeUTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2+2*len(units))
	buf[0], buf[1] = 0xFF, 0xFE
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return buf
}
