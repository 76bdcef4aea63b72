package layout

// Target describes the ABI target and its pointer properties.
//
// Only x86_64 SysV is implemented; the runtime records exist nowhere else.
type Target struct {
	Triple   string // e.g. "x86_64-unknown-linux-gnu"
	PtrSize  uint64 // bytes
	PtrAlign uint64 // bytes
	// MaxIntAlign caps the alignment of wide integers.
	MaxIntAlign uint64
}

// X86_64LinuxGNU is the data layout the runtime records are compiled with.
func X86_64LinuxGNU() Target {
	return Target{
		Triple:      "x86_64-unknown-linux-gnu",
		PtrSize:     8,
		PtrAlign:    8,
		MaxIntAlign: 16,
	}
}
