package model

import (
	"errors"
	"testing"

	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/serializer"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	d := &Descriptor{Name: "widget"}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if d.ConfigDBName != defaultConfigDBName {
		t.Errorf("ConfigDBName = %q, want %q", d.ConfigDBName, defaultConfigDBName)
	}
	if d.EntriesDBName != defaultEntriesDBName {
		t.Errorf("EntriesDBName = %q, want %q", d.EntriesDBName, defaultEntriesDBName)
	}
	if d.CheckpointsDBName != defaultCheckpointsDBName {
		t.Errorf("CheckpointsDBName = %q, want %q", d.CheckpointsDBName, defaultCheckpointsDBName)
	}
	if d.DataEnvDirectory != defaultDataEnvDirectory {
		t.Errorf("DataEnvDirectory = %q, want %q", d.DataEnvDirectory, defaultDataEnvDirectory)
	}
	if d.ReadersEnvDirectory != defaultReadersEnvDir {
		t.Errorf("ReadersEnvDirectory = %q, want %q", d.ReadersEnvDirectory, defaultReadersEnvDir)
	}
	if d.IndexDBFormat != defaultIndexDBFormat {
		t.Errorf("IndexDBFormat = %q, want %q", d.IndexDBFormat, defaultIndexDBFormat)
	}
}

func TestNormalizeLeavesExplicitFieldsAlone(t *testing.T) {
	d := &Descriptor{
		Name:              "widget",
		ConfigDBName:      "cfg",
		EntriesDBName:     "ent",
		CheckpointsDBName: "chk",
	}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if d.ConfigDBName != "cfg" || d.EntriesDBName != "ent" || d.CheckpointsDBName != "chk" {
		t.Errorf("Normalize overwrote explicit names: %+v", d)
	}
}

func TestNormalizeDetectsIndexNameCollision(t *testing.T) {
	d := &Descriptor{
		Name:          "widget",
		IndexDBFormat: "%[1]s.index", // no %[2]s: every index expands to the same name
		Indexes: map[string]IndexDescriptor{
			"owner":   {Serializer: serializer.Text{}},
			"creator": {Serializer: serializer.Text{}},
		},
	}

	err := d.Normalize()
	if !errors.Is(err, ierr.InvalidValue) {
		t.Fatalf("expected InvalidValue for colliding index names, got %v", err)
	}
}

func TestNormalizeAcceptsDistinctIndexNames(t *testing.T) {
	d := &Descriptor{
		Name: "widget",
		Indexes: map[string]IndexDescriptor{
			"owner":   {Serializer: serializer.Text{}},
			"creator": {Serializer: serializer.Text{}},
		},
	}

	if err := d.Normalize(); err != nil {
		t.Fatalf("expected distinct index names to pass, got %v", err)
	}
}

func TestIndexDBNameExpandsTemplate(t *testing.T) {
	d := &Descriptor{Name: "widget"}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	got := d.IndexDBName("owner")
	want := "widget.index.owner"
	if got != want {
		t.Errorf("IndexDBName = %q, want %q", got, want)
	}
}

func TestDataPathAndReadersPathJoinBasePath(t *testing.T) {
	d := &Descriptor{Name: "widget"}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if got, want := d.DataPath("/tmp/base"), "/tmp/base/data"; got != want {
		t.Errorf("DataPath = %q, want %q", got, want)
	}
	if got, want := d.ReadersPath("/tmp/base"), "/tmp/base/readers"; got != want {
		t.Errorf("ReadersPath = %q, want %q", got, want)
	}
}

func TestSortedIndexNamesIsDeterministic(t *testing.T) {
	d := &Descriptor{
		Name: "widget",
		Indexes: map[string]IndexDescriptor{
			"zeta":  {Serializer: serializer.Text{}},
			"alpha": {Serializer: serializer.Text{}},
			"mu":    {Serializer: serializer.Text{}},
		},
	}

	got := d.SortedIndexNames()
	want := []string{"alpha", "mu", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedIndexNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
