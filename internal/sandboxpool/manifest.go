package sandboxpool

// Manifest is the per-language security/resource contract a provisioned
// container must satisfy (spec §4.1 "Security constraints"): a
// declared resource and permission envelope, same shape whether it
// bounds a container or a submission file set.
type Manifest struct {
	Language    string
	Image       string
	MemoryMB    int
	CPUs        float64
	PidsLimit   int
	NetworkMode string // always "none" unless explicitly overridden for testing
	ReadOnly    bool
	CapDropAll  bool
	TmpfsSizeMB int
	WorkDir     string
}

// DefaultManifest returns the security-constraint defaults required by
// spec §4.1: no network, dropped capabilities, capped memory/CPU/process
// count, ephemeral writable storage only.
func DefaultManifest(language, image string) Manifest {
	return Manifest{
		Language:    language,
		Image:       image,
		MemoryMB:    256,
		CPUs:        1.0,
		PidsLimit:   64,
		NetworkMode: "none",
		ReadOnly:    true,
		CapDropAll:  true,
		TmpfsSizeMB: 64,
		WorkDir:     "/workspace",
	}
}
