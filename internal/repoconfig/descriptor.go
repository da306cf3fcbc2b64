// Package repoconfig reads and writes OSTree repository descriptors and
// deployment origin records.
//
// Both files use the same INI-like layout: `[name]` or `[kind "label"]`
// headers followed by key=value lines. Section and key order and unknown
// keys survive a load/save round trip.
package repoconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/utils/v4"
	"gopkg.in/ini.v1"
)

func init() {
	// OSTree writes key=value with no alignment padding.
	ini.PrettyFormat = false
}

// loadOptions keep values verbatim: `branches=` lists end with ';' and
// URLs may carry '#', neither of which starts a comment here.
var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:      true,
	PreserveSurroundedQuote:  true,
	AllowBooleanKeys:         true,
	KeyValueDelimiters:       "=",
	KeyValueDelimiterOnWrite: "=",
}

// Entry is one key=value line.
type Entry struct {
	Key   string
	Value string
}

// Section is a named, ordered group of entries.
type Section struct {
	Name    string
	Entries []Entry
}

// RemoteSection returns the header name for a remote, e.g. `remote "eos"`.
func RemoteSection(remote string) string {
	return fmt.Sprintf("remote %q", remote)
}

// Descriptor is an in-memory repository config.
type Descriptor struct {
	file *ini.File
}

// New returns an empty descriptor.
func New(sections ...Section) *Descriptor {
	d := &Descriptor{file: ini.Empty(loadOptions)}
	for _, s := range sections {
		d.Put(s)
	}
	return d
}

// Parse decodes descriptor text.
func Parse(data []byte) (*Descriptor, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parsing repository config: %w", err)
	}
	return &Descriptor{file: f}, nil
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// SectionNames lists sections in file order.
func (d *Descriptor) SectionNames() []string {
	var names []string
	for _, s := range d.file.Sections() {
		if s.Name() == ini.DefaultSection && len(s.Keys()) == 0 {
			continue
		}
		names = append(names, s.Name())
	}
	return names
}

// Has reports whether the named section exists.
func (d *Descriptor) Has(section string) bool {
	_, err := d.file.GetSection(section)
	return err == nil
}

// Section returns a copy of the named section.
func (d *Descriptor) Section(name string) (Section, bool) {
	sec, err := d.file.GetSection(name)
	if err != nil {
		return Section{}, false
	}
	out := Section{Name: name}
	for _, k := range sec.Keys() {
		out.Entries = append(out.Entries, Entry{Key: k.Name(), Value: k.Value()})
	}
	return out, true
}

// Get returns the value of key in section.
func (d *Descriptor) Get(section, key string) (string, bool) {
	sec, err := d.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).Value(), true
}

// Set assigns key in section, creating either as needed. Existing keys keep
// their position.
func (d *Descriptor) Set(section, key, value string) error {
	if _, err := d.file.Section(section).NewKey(key, value); err != nil {
		return fmt.Errorf("setting %s.%s: %w", section, key, err)
	}
	return nil
}

// Put replaces the named section wholesale. A new section is appended.
func (d *Descriptor) Put(s Section) {
	if d.Has(s.Name) {
		d.file.DeleteSection(s.Name)
	}
	sec, err := d.file.NewSection(s.Name)
	if err != nil {
		// NewSection only fails on an empty name.
		panic(fmt.Sprintf("repoconfig: %v", err))
	}
	for _, e := range s.Entries {
		sec.NewKey(e.Key, e.Value)
	}
}

// Remove deletes the named section and reports whether it was present.
func (d *Descriptor) Remove(section string) bool {
	if !d.Has(section) {
		return false
	}
	d.file.DeleteSection(section)
	return true
}

// Bytes encodes the descriptor.
func (d *Descriptor) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.file.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile atomically replaces path with the encoded descriptor.
func (d *Descriptor) WriteFile(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := utils.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
