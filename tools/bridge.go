package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirBridge is an EditorBridge backed by a directory of exported Blueprint
// JSON files. The engine-side exporter drops one <name>.json per Blueprint;
// the most recently modified file counts as the focused one.
type DirBridge struct {
	dir string
}

// NewDirBridge constructs a DirBridge rooted at dir.
func NewDirBridge(dir string) *DirBridge {
	return &DirBridge{dir: dir}
}

func (b *DirBridge) FocusedBlueprintJSON() (json.RawMessage, error) {
	infos, err := b.AllBlueprints()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no Blueprint exports found in %s", b.dir)
	}
	// AllBlueprints sorts newest first.
	return infos[0].Graph, nil
}

func (b *DirBridge) AllBlueprints() ([]BlueprintInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read Blueprint export directory: %w", err)
	}

	type stamped struct {
		info    BlueprintInfo
		modTime int64
	}
	var found []stamped
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(b.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read Blueprint export %s: %w", entry.Name(), err)
		}
		if !json.Valid(data) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return nil, err
		}
		found = append(found, stamped{
			info: BlueprintInfo{
				Name:  strings.TrimSuffix(entry.Name(), ".json"),
				Path:  path,
				Graph: json.RawMessage(data),
			},
			modTime: fi.ModTime().UnixNano(),
		})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime > found[j].modTime })

	out := make([]BlueprintInfo, len(found))
	for i, s := range found {
		out[i] = s.info
	}
	return out, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
