package transport

import (
	"strconv"
	"strings"
	"time"
)

// Layout of the full-iso timestamp, e.g. "2024-01-01 10:00:00.000000000 +0000"
const fullISOLayout = "2006-01-02 15:04:05.999999999 -0700"

// parseListing parses 'ls -lR --time-style=full-iso' output rooted at root.
// Recursive output interleaves "<dir>:" headers, "total N" lines and blanks;
// names keep their path relative to root. Returns the entries plus the number
// of malformed lines skipped.
func parseListing(root string, text string) ([]Entry, int) {
	var entries []Entry
	skipped := 0
	currentDir := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t") {
			dir := strings.TrimSuffix(line, ":")
			currentDir = relativeTo(root, dir)
			continue
		}
		if strings.HasPrefix(line, "total ") {
			continue
		}
		e, ok := parseListingLine(line)
		if !ok {
			skipped++
			continue
		}
		if e == nil { // directory or link entry, not a file
			continue
		}
		if currentDir != "" {
			e.Name = currentDir + "/" + e.Name
		}
		entries = append(entries, *e)
	}
	return entries, skipped
}

// parseListingLine splits one 'ls -l' line into
// mode, links, owner, group, size, iso timestamp, name.
// Returns (nil, true) for entries that are not regular files.
func parseListingLine(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil, false
	}
	mode := fields[0]
	if !strings.HasPrefix(mode, "-") {
		return nil, true // directory, link, device - not a file
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, false
	}
	stamp := strings.Join(fields[5:8], " ")
	mtime, err := time.Parse(fullISOLayout, stamp)
	if err != nil {
		return nil, false
	}
	// Name is everything after the timezone field - may contain spaces
	idx := strings.Index(line, fields[7])
	if idx < 0 {
		return nil, false
	}
	name := strings.TrimSpace(line[idx+len(fields[7]):])
	if name == "" {
		return nil, false
	}
	return &Entry{Name: name, Size: size, ModTime: mtime.UTC()}, true
}

func relativeTo(root string, dir string) string {
	root = strings.TrimSuffix(root, "/")
	if dir == root {
		return ""
	}
	if strings.HasPrefix(dir, root+"/") {
		return strings.TrimPrefix(dir, root+"/")
	}
	return dir
}
