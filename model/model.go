// Package model holds the descriptor types the engine consumes but never
// defines itself: which sub-databases to open, which indexes to maintain,
// and the entry value that flows through create/append/ack. Declaring
// fields, serializers and indexes is left entirely to the caller, the same
// boundary spec.md §6 draws around "model descriptor (consumed)".
package model

import (
	"fmt"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/serializer"
)

// IndexDescriptor declares one secondary index: the serializer that turns
// a field's domain value into a sortable byte string, and whether an entry
// missing that field fails creation outright.
type IndexDescriptor struct {
	Serializer serializer.Serializer
	Mandatory  bool
}

// Descriptor is the static description an Engine is opened with. Database
// names and directories default to the teacher's own flavor of sensible
// zero values when left blank; IndexDBFormat follows the template
// convention of the source model ("{model}.index.{index_name}").
type Descriptor struct {
	Name string // used by the default IndexDBFormat, and in log fields

	ConfigDBName      string
	EntriesDBName     string
	CheckpointsDBName string

	DataEnvDirectory    string
	ReadersEnvDirectory string

	// IndexDBFormat is expanded with %[1]s = Name, %[2]s = index name.
	IndexDBFormat string

	Indexes map[string]IndexDescriptor
}

const (
	defaultConfigDBName      = "config"
	defaultEntriesDBName     = "entries"
	defaultCheckpointsDBName = "checkpoints"
	defaultDataEnvDirectory  = "data"
	defaultReadersEnvDir     = "readers"
	defaultIndexDBFormat     = "%[1]s.index.%[2]s"
)

// Normalize fills in defaults for any blank field and validates that no
// two indexes expand to the same sub-database name, the one check the
// source left to the reader's imagination and spec.md §6 implies by
// requiring index sub-database names be derived from a template: a
// collision would silently merge two indexes into one bucket.
func (d *Descriptor) Normalize() error {
	if d.ConfigDBName == "" {
		d.ConfigDBName = defaultConfigDBName
	}
	if d.EntriesDBName == "" {
		d.EntriesDBName = defaultEntriesDBName
	}
	if d.CheckpointsDBName == "" {
		d.CheckpointsDBName = defaultCheckpointsDBName
	}
	if d.DataEnvDirectory == "" {
		d.DataEnvDirectory = defaultDataEnvDirectory
	}
	if d.ReadersEnvDirectory == "" {
		d.ReadersEnvDirectory = defaultReadersEnvDir
	}
	if d.IndexDBFormat == "" {
		d.IndexDBFormat = defaultIndexDBFormat
	}

	seen := mapset.NewSet[string]()
	for name := range d.Indexes {
		dbName := d.IndexDBName(name)
		if !seen.Add(dbName) {
			return fmt.Errorf("%w: indexes collide on sub-database name %q", ierr.InvalidValue, dbName)
		}
	}
	return nil
}

// IndexDBName expands the descriptor's template for the named index.
func (d *Descriptor) IndexDBName(indexName string) string {
	return fmt.Sprintf(d.IndexDBFormat, d.Name, indexName)
}

// DataPath joins the descriptor's data directory onto a base path.
func (d *Descriptor) DataPath(basePath string) string {
	return filepath.Join(basePath, filepath.FromSlash(d.DataEnvDirectory))
}

// ReadersPath joins the descriptor's readers directory onto a base path.
func (d *Descriptor) ReadersPath(basePath string) string {
	return filepath.Join(basePath, filepath.FromSlash(d.ReadersEnvDirectory))
}

// SortedIndexNames returns the declared index names in a stable order, so
// callers that must iterate indexes deterministically (index maintenance
// during create, logging) don't depend on Go's randomized map order.
func (d *Descriptor) SortedIndexNames() []string {
	names := make([]string, 0, len(d.Indexes))
	for name := range d.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
