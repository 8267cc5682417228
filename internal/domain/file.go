package domain

// Root is an allow-listed directory the server may expose. Parent and Rel are set
// when the root is a per-user restriction below a global root.
type Root struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Parent    string `json:"parent,omitempty"`
	Rel       string `json:"rel,omitempty"`
	Available bool   `json:"available"`
}

// ResolvedPath is a canonical absolute path guaranteed to lie within Root.
// Lexical is root+rel before symlink resolution; Rel is slash separated.
type ResolvedPath struct {
	Root    Root
	Path    string
	Lexical string
	Rel     string
}

type DirEntry struct {
	Name     string `json:"name"`
	IsDir    bool   `json:"is_dir"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
	Mime     string `json:"mime"`
}

type SearchResult struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type Listing struct {
	Path     string     `json:"path"`
	Entries  []DirEntry `json:"entries"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	HasMore  bool       `json:"has_more"`
}

type Preview struct {
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	Mime      string  `json:"mime"`
	Text      *string `json:"text,omitempty"`
	Truncated bool    `json:"truncated"`
}

// ItemResult reports the outcome of one item in a batch upload or delete.
type ItemResult struct {
	Path  string    `json:"path"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Code  string    `json:"code,omitempty"`
	Entry *DirEntry `json:"entry,omitempty"`
}

type DeleteRequest struct {
	Root      string   `json:"root"`
	Path      string   `json:"path"`
	Paths     []string `json:"paths"`
	Recursive bool     `json:"recursive"`
}

type FeaturesRequest struct {
	Uploads        *bool `json:"uploads"`
	Delete         *bool `json:"delete"`
	Thumbnails     *bool `json:"thumbnails"`
	HEICConversion *bool `json:"heic_conversion"`
}

// IndexedFile is a row of the background file index.
type IndexedFile struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsDir     bool   `json:"is_dir"`
	Size      int64  `json:"size"`
	Modified  int64  `json:"modified"`
	Extension string `json:"extension"`
}
