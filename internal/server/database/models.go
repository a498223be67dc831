package database

// Template is one stored template file. The blob lives in the storage
// directory as <Endpoint>.<Extension>.
type Template struct {
	ID          int64
	Category    string // cname
	Endpoint    string // endpt, unique
	DisplayName string // docname
	Extension   string // extname, no leading dot
	UpdatedAt   string // uptime, free-form
}

// DownloadName is the name suggested to clients.
func (t *Template) DownloadName() string {
	return t.DisplayName + "." + t.Extension
}

// SourceKind is the kind of network identity an allowlist entry admits.
type SourceKind string

const (
	KindMAC SourceKind = "mac"
	KindIP  SourceKind = "ip"
)

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	return k == KindMAC || k == KindIP
}

// AllowlistEntry is one admitted MAC or IP address.
type AllowlistEntry struct {
	ID          int64
	Kind        SourceKind
	Value       string
	Description string
}
