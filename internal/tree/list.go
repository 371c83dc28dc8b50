package tree

import "github.com/opacitylabs/vault/internal/domain"

// ListEntry is one row of a folder's flat, display-ready listing: either a
// subfolder (Size unset) or a file's newest version (Size and Handle taken
// from Versions[0]). Grounded on original_source's showFiles, which renders
// _metaData.folders/files the same way as a single flat, colorized table.
type ListEntry struct {
	Name     string
	IsFolder bool
	Handle   string
	Size     int64
}

// List renders a folder's direct entries as a flat listing, folders first
// then files, matching original_source's showFiles ordering. This is the
// dedicated read operation SPEC_FULL.md calls out as C7's ListFolder,
// separating "what's in this folder" (a rendered row per entry) from
// GetFolderData's raw FolderMetaData.
func List(data domain.FolderMetaData) []ListEntry {
	entries := make([]ListEntry, 0, len(data.Folders)+len(data.Files))
	for _, f := range data.Folders {
		entries = append(entries, ListEntry{Name: f.Name, IsFolder: true, Handle: f.Handle})
	}
	for _, f := range data.Files {
		var handle string
		var size int64
		if len(f.Versions) > 0 {
			handle = f.Versions[0].Handle
			size = f.Versions[0].Size
		}
		entries = append(entries, ListEntry{Name: f.Name, Handle: handle, Size: size})
	}
	return entries
}
