// Package library loads a directory of .psf specification files into a set
// of named, resolved model.ProtocolSpecs. Any file with the recognized
// extension is accepted, and the resulting protocol is named after the file
// stem.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/psi/model"
	"github.com/0xinf0/nooshdaroo/psi/parser"
)

// Extension is the recognized suffix for protocol specification files.
const Extension = ".psf"

// Library holds every protocol resolved from a directory, keyed by the
// normalized file stem (lowercased, spaces and dashes folded to underscore).
type Library struct {
	mu    sync.RWMutex
	specs map[string]*model.ProtocolSpec
}

// Load reads every *.psf file directly under dir and resolves it into a
// ProtocolSpec. One malformed file fails the whole load: adding a hundred
// cover protocols must not silently drop any of them.
func Load(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Io(err)
	}

	lib := &Library{specs: map[string]*model.ProtocolSpec{}}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Io(err)
		}
		id := normalize(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))

		file, err := parser.Parse(path, string(src))
		if err != nil {
			return nil, err
		}
		spec, err := model.Resolve(id, file)
		if err != nil {
			return nil, err
		}
		if _, dup := lib.specs[id]; dup {
			return nil, errors.InvalidConfig("duplicate protocol id " + id + " in " + dir)
		}
		lib.specs[id] = spec
		errors.LogDebug("loaded protocol ", id, " from ", path)
	}
	errors.LogInfo(fmt.Sprintf("psi library: loaded %d protocol(s) from %s", len(lib.specs), dir))
	return lib, nil
}

func normalize(stem string) string {
	stem = strings.ToLower(stem)
	stem = strings.ReplaceAll(stem, " ", "_")
	stem = strings.ReplaceAll(stem, "-", "_")
	return stem
}

// Get returns the resolved spec named id, or ProtocolNotFound.
func (l *Library) Get(id string) (*model.ProtocolSpec, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	spec, ok := l.specs[normalize(id)]
	if !ok {
		return nil, errors.ProtocolNotFound(id)
	}
	return spec, nil
}

// IDs returns every loaded protocol id.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.specs))
	for id := range l.specs {
		ids = append(ids, id)
	}
	return ids
}
