// Package locatedb keeps a foldmountd mountpoint out of updatedb's
// (mlocate/plocate's) filesystem scan by idempotently rewriting the
// PRUNEPATHS line of /etc/updatedb.conf. A port of
// update_updatedb.py.
package locatedb

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// AddPruneDir appends mountpoint to configPath's PRUNEPATHS line if
// it isn't already listed there. It does nothing (and returns nil) if
// configPath doesn't exist, matching the prototype's "not present"
// no-op. It is safe to call repeatedly -- a mountpoint already listed
// is left untouched.
func AddPruneDir(configPath, mountpoint string) error {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("locatedb: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	trailingNewline := strings.HasSuffix(string(data), "\n")
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}

	foundPruneLine := false
	for i, line := range lines {
		if !strings.HasPrefix(line, "PRUNEPATHS") {
			continue
		}
		foundPruneLine = true
		lines[i] = addToPruneLine(line, mountpoint)
	}
	if !foundPruneLine {
		return fmt.Errorf("locatedb: PRUNEPATHS not found in %s", configPath)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline {
		out += "\n"
	}
	return writeFileAtomic(configPath, out)
}

// addToPruneLine inserts mountpoint into the quoted path list of a
// PRUNEPATHS line, unless it's already present.
func addToPruneLine(line, mountpoint string) string {
	if strings.Contains(line, mountpoint) {
		return line
	}
	parts := strings.SplitN(line, `"`, 3)
	if len(parts) != 3 {
		return line
	}
	return parts[0] + `"` + parts[1] + " " + mountpoint + `"` + parts[2]
}

func writeFileAtomic(path, content string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("locatedb: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("locatedb: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("locatedb: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("locatedb: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("locatedb: %w", err)
	}
	return nil
}
