package uprobe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ProcFS reads process state from a mounted proc filesystem. It
// implements both ProcReader and FilePathResolver: paths inside a
// process's mount namespace are reached through /proc/<pid>/root
// without entering the namespace itself.
type ProcFS struct {
	root string

	// nsPid is the process whose mount namespace subsequent
	// ResolvePath calls see.
	nsPid uint32
}

// NewProcFS builds a ProcFS over the given proc mount ("" means
// /proc).
func NewProcFS(root string) *ProcFS {
	if root == "" {
		root = "/proc"
	}
	return &ProcFS{root: root}
}

// MapPaths returns the distinct file paths mapped into the process's
// address space, from /proc/<pid>/maps.
func (p *ProcFS) MapPaths(pid uint32) ([]string, error) {
	f, err := os.Open(filepath.Join(p.root, fmt.Sprint(pid), "maps"))
	if err != nil {
		return nil, errors.Wrapf(err, "uprobe: reading maps for pid %d", pid)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// address perms offset dev inode pathname
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths, scanner.Err()
}

// Exe returns the process's main binary path, from /proc/<pid>/exe.
func (p *ProcFS) Exe(pid uint32) (string, error) {
	path, err := os.Readlink(filepath.Join(p.root, fmt.Sprint(pid), "exe"))
	if err != nil {
		return "", errors.Wrapf(err, "uprobe: reading exe for pid %d", pid)
	}
	return path, nil
}

// SetMountNamespace pins which process's namespace ResolvePath sees.
func (p *ProcFS) SetMountNamespace(pid uint32) error {
	if _, err := os.Stat(filepath.Join(p.root, fmt.Sprint(pid))); err != nil {
		return errors.Wrapf(err, "uprobe: pid %d not present", pid)
	}
	p.nsPid = pid
	return nil
}

// ResolvePath translates a namespace-relative path to a host path via
// /proc/<pid>/root, which the kernel presents as the process's own
// filesystem view.
func (p *ProcFS) ResolvePath(path string) (string, error) {
	hostPath := filepath.Join(p.root, fmt.Sprint(p.nsPid), "root", path)
	if _, err := os.Stat(hostPath); err != nil {
		return "", errors.Wrapf(err, "uprobe: resolving %s in pid %d namespace", path, p.nsPid)
	}
	return hostPath, nil
}

// Refresh is a no-op for procfs: /proc/<pid>/root always reflects the
// current mount table.
func (p *ProcFS) Refresh() error { return nil }

// ListUPIDs snapshots the currently running processes as UPIDs, with
// start-time ticks read from /proc/<pid>/stat so a recycled pid never
// collides with its predecessor.
func (p *ProcFS) ListUPIDs(asid uint32) (map[UPID]struct{}, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, errors.Wrap(err, "uprobe: listing proc")
	}

	upids := make(map[UPID]struct{})
	for _, entry := range entries {
		var pid uint32
		if _, err := fmt.Sscanf(entry.Name(), "%d", &pid); err != nil {
			continue
		}
		ticks, err := p.startTimeTicks(pid)
		if err != nil {
			// The process exited between the listing and the read.
			continue
		}
		upids[UPID{ASID: asid, PID: pid, StartTimeTicks: ticks}] = struct{}{}
	}
	return upids, nil
}

// startTimeTicks reads field 22 of /proc/<pid>/stat. The comm field
// can contain spaces and parentheses, so parsing starts after the
// last ')'.
func (p *ProcFS) startTimeTicks(pid uint32) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(p.root, fmt.Sprint(pid), "stat"))
	if err != nil {
		return 0, err
	}
	text := string(data)
	closeParen := strings.LastIndexByte(text, ')')
	if closeParen < 0 {
		return 0, errors.Newf("uprobe: malformed stat for pid %d", pid)
	}
	fields := strings.Fields(text[closeParen+1:])
	// Field 3 ("state") is fields[0] here; starttime is field 22
	// overall, so fields[19].
	if len(fields) < 20 {
		return 0, errors.Newf("uprobe: short stat for pid %d", pid)
	}
	var ticks uint64
	if _, err := fmt.Sscanf(fields[19], "%d", &ticks); err != nil {
		return 0, err
	}
	return ticks, nil
}
