package models

// StorageLocation is a storage tier with distinct volatility and protection
// guarantees.
type StorageLocation int

const (
	StorageLocationMemory StorageLocation = iota
	StorageLocationDisk
)

// DiskLocation is a sub-location within the disk tier. Local survives
// application restarts unconditionally; Session is cleared on an explicit
// fresh start.
type DiskLocation int

const (
	DiskLocationSession DiskLocation = iota
	DiskLocationLocal
)

// StorageOptions resolve where a field read or write lands. Unset fields
// fall back to the target field's default tier policy, which in turn falls
// back to the store's defaults: explicit request > field policy > default.
type StorageOptions struct {
	UserID           string
	Location         *StorageLocation
	DiskLocation     *DiskLocation
	UseSecureStorage bool
	KeySuffix        string
}

// Reconcile overlays o on top of defaults, returning the effective options.
func (o StorageOptions) Reconcile(defaults StorageOptions) StorageOptions {
	out := o
	if out.UserID == "" {
		out.UserID = defaults.UserID
	}
	if out.Location == nil {
		out.Location = defaults.Location
	}
	if out.DiskLocation == nil {
		out.DiskLocation = defaults.DiskLocation
	}
	if !out.UseSecureStorage {
		out.UseSecureStorage = defaults.UseSecureStorage
	}
	if out.KeySuffix == "" {
		out.KeySuffix = defaults.KeySuffix
	}
	return out
}

// LocationPtr is a convenience for building StorageOptions literals.
func LocationPtr(l StorageLocation) *StorageLocation { return &l }

// DiskLocationPtr is a convenience for building StorageOptions literals.
func DiskLocationPtr(l DiskLocation) *DiskLocation { return &l }
