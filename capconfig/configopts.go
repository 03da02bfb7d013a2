package capconfig

// Options is the typed form of the capture/apply flag bitfield (§6:
// BOOT/VERBOSE/DEREFERENCE/UNIX_DATA/NTFS), grounded on the teacher's
// configstruct/configmap pattern: callers that build options
// programmatically get named, typed fields instead of manually OR-ing
// bits together. The `config` tags mirror configstruct's field-to-key
// convention even though, unlike configstruct.Items, Bits/FromBits don't
// walk the struct by reflection - five fixed bools don't earn a generic
// marshaler, so the adapter below is a direct, hand-written mapping.
type Options struct {
	Boot        bool `config:"boot"`
	Verbose     bool `config:"verbose"`
	Dereference bool `config:"dereference"`
	UnixData    bool `config:"unix_data"`
	Ntfs        bool `config:"ntfs"`
}

// Bit positions match capture.Boot/Verbose/Dereference/UnixData/Ntfs
// (§6); duplicated here, rather than imported, because capture already
// imports capconfig and Go forbids the reverse edge.
const (
	bitBoot = 1 << iota
	bitVerbose
	bitDereference
	bitUnixData
	bitNtfs
)

// Bits packs o into the public capture bitfield (§6), the bitmask
// adapter entry points like capture.AddImageWithOptions convert through
// to obtain the Flags value the engine actually runs on.
func (o Options) Bits() uint32 {
	var b uint32
	if o.Boot {
		b |= bitBoot
	}
	if o.Verbose {
		b |= bitVerbose
	}
	if o.Dereference {
		b |= bitDereference
	}
	if o.UnixData {
		b |= bitUnixData
	}
	if o.Ntfs {
		b |= bitNtfs
	}
	return b
}

// FromBits unpacks the public capture bitfield into a typed Options.
func FromBits(bits uint32) Options {
	return Options{
		Boot:        bits&bitBoot != 0,
		Verbose:     bits&bitVerbose != 0,
		Dereference: bits&bitDereference != 0,
		UnixData:    bits&bitUnixData != 0,
		Ntfs:        bits&bitNtfs != 0,
	}
}
