// Package mountctl manages a foldmountd mountpoint from the outside:
// querying its state, asking it to unmount cleanly, and forcing an
// unmount by terminating whatever process holds it busy. A port of
// mountcontrol.py's MountControl.
package mountctl

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// MountInfo is one /proc/mounts entry.
type MountInfo struct {
	Name       string
	Mountpoint string
	Type       string
	Options    string
}

func (m MountInfo) Description() string {
	return fmt.Sprintf("%s (%s) is %s mount with options %s", m.Mountpoint, m.Name, m.Type, m.Options)
}

// Control operates on a single mountpoint.
type Control struct {
	Mountpoint string

	// mountsPath is normally /proc/mounts; overridable for tests.
	mountsPath string
}

// New validates path and returns a Control for it.
func New(path string) (*Control, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("mountctl: %s must be absolute", path)
	}
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("mountctl: %s is a file, not a directory", path)
	}
	return &Control{Mountpoint: path, mountsPath: "/proc/mounts"}, nil
}

// findMount scans /proc/mounts for an entry at c.Mountpoint.
func (c *Control) findMount() (*MountInfo, error) {
	f, err := os.Open(c.mountsPath)
	if err != nil {
		return nil, fmt.Errorf("mountctl: %w", err)
	}
	defer f.Close()

	var found *MountInfo
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[1] != c.Mountpoint {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("mountctl: duplicate mount entries for %s", c.Mountpoint)
		}
		mi := MountInfo{Name: fields[0], Mountpoint: fields[1], Type: fields[2], Options: fields[3]}
		found = &mi
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mountctl: %w", err)
	}
	return found, nil
}

// unmount attempts an unmount and returns the error encountered, nil
// both on success and when nothing was mounted there to begin with.
func (c *Control) unmount() error {
	mi, err := c.findMount()
	if err != nil {
		return err
	}
	if mi == nil {
		return nil
	}
	if err := unix.Unmount(c.Mountpoint, 0); err != nil {
		return err
	}
	return nil
}

// killUsers terminates, then kills, every process whose working
// directory or open files sit under the mountpoint.
func (c *Control) killUsers() error {
	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("mountctl: list processes: %w", err)
	}

	var using []*process.Process
	for _, p := range procs {
		if c.processUsesMount(p) {
			using = append(using, p)
		}
	}
	if len(using) == 0 {
		return nil
	}

	for _, p := range using {
		_ = p.Terminate()
	}

	time.Sleep(500 * time.Millisecond)

	var remaining []*process.Process
	for _, p := range using {
		if running, _ := p.IsRunning(); running {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	time.Sleep(30 * time.Second)
	for _, p := range remaining {
		_ = p.Kill()
	}
	return nil
}

func (c *Control) processUsesMount(p *process.Process) bool {
	if cwd, err := p.Cwd(); err == nil && strings.HasPrefix(cwd, c.Mountpoint) {
		return true
	}
	files, err := p.OpenFiles()
	if err != nil {
		return false
	}
	for _, f := range files {
		if strings.HasPrefix(f.Path, c.Mountpoint) {
			return true
		}
	}
	return false
}

// Query reports the mountpoint's current state.
func (c *Control) Query() (string, error) {
	fi, err := os.Stat(c.Mountpoint)
	if os.IsNotExist(err) {
		return fmt.Sprintf("%s does not exist", c.Mountpoint), nil
	}
	if err != nil {
		return "", fmt.Errorf("mountctl: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Sprintf("%s is not a directory", c.Mountpoint), nil
	}

	mi, err := c.findMount()
	if err != nil {
		return "", err
	}
	if mi == nil {
		return fmt.Sprintf("%s is an unmounted directory", c.Mountpoint), nil
	}
	return mi.Description(), nil
}

// Umount tries a graceful unmount and returns any failure verbatim.
func (c *Control) Umount() error {
	return c.unmount()
}

// errBusy reports whether err is the kind of unmount failure that
// killUsers might resolve.
func errBusy(err error) bool {
	return errors.Is(err, unix.EBUSY)
}

// ForceUnmount tries a graceful unmount first; if the mountpoint is
// busy, it kills whatever holds it open and retries once.
func (c *Control) ForceUnmount() error {
	err := c.unmount()
	if err == nil {
		return nil
	}
	if !errBusy(err) {
		return err
	}

	if killErr := c.killUsers(); killErr != nil {
		return killErr
	}
	if err := c.unmount(); err != nil {
		return fmt.Errorf("mountctl: unable to unmount %s: %w", c.Mountpoint, err)
	}
	return nil
}
