package archive

import "time"

// ManifestName is the logical name of the manifest entry. It is always the
// first entry in an archive so readers can validate before extracting data.
const ManifestName = "manifest.json"

// Manifest describes the contents of one archive. It is embedded in the
// archive itself, which makes decompression and restore self-describing:
// a reader needs nothing but the blob to validate and unpack it.
type Manifest struct {
	// SchemaVersion is the manifest format version.
	SchemaVersion int `json:"schema_version"`

	// CreatedAt is the capture instant, UTC.
	CreatedAt time.Time `json:"created_at"`

	// SourceVersion is the schema/data version of the live store at
	// capture time.
	SourceVersion string `json:"source_version"`

	// CompressionLevel is the gzip effort used (0 = store only).
	CompressionLevel int `json:"compression_level"`

	// TotalSizeBytes is the sum of the uncompressed file sizes.
	TotalSizeBytes int64 `json:"total_size_bytes"`

	// Files lists every archived file, sorted by logical name.
	Files []File `json:"files"`
}

// File is one archived file and its integrity digest.
type File struct {
	// Name is the logical name: "<source label>/<relative path>".
	Name string `json:"name"`

	// SizeBytes is the uncompressed size.
	SizeBytes int64 `json:"size_bytes"`

	// Checksum is the hex SHA-256 of the file contents.
	Checksum string `json:"checksum"`
}

// Lookup returns the manifest entry for a logical name.
func (m *Manifest) Lookup(name string) (File, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}
