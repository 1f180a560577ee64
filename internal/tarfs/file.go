package tarfs

// MaxFileSize is the largest file this filesystem can hold in one slot,
// matching the original's fixed 1024-byte data field.
const MaxFileSize = 1024

// MaxNameLength is the largest file name this filesystem can hold,
// matching the USTAR name field's 100-byte width.
const MaxNameLength = 100

// File is one flat-namespace file: a fixed-size name and a fixed-size
// data buffer, never grown, never deleted — files are created only by
// Store.Load reading an existing tar image.
type File struct {
	InUse bool
	Name  [MaxNameLength]byte
	Data  [MaxFileSize]byte
	Size  int
}

// NameString returns the file's name as a Go string, stopping at the
// first NUL byte.
func (f *File) NameString() string {
	for i, b := range f.Name {
		if b == 0 {
			return string(f.Name[:i])
		}
	}

	return string(f.Name[:])
}

// Table is the kernel's fixed-size file table.
type Table struct {
	files []File
}

// NewTable creates a Table with the given number of slots.
func NewTable(size int) *Table {
	return &Table{files: make([]File, size)}
}

// Len returns the number of file slots in the table.
func (t *Table) Len() int { return len(t.files) }

// At returns the file occupying slot i.
func (t *Table) At(i int) *File { return &t.files[i] }

// Lookup returns the in-use file with the given name, or nil if no slot
// holds it.
func (t *Table) Lookup(name string) *File {
	for i := range t.files {
		if t.files[i].InUse && t.files[i].NameString() == name {
			return &t.files[i]
		}
	}

	return nil
}
