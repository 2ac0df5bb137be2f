package types

// Generation is a monotonic counter incremented on every script reload.
// Cache keys carry the generation they were requested under; keys from a
// dead generation never match and are purged wholesale on reload.
type Generation uint64

// FrameKey identifies a single decoded frame.
type FrameKey struct {
	Node  NodeID
	Index int
	Gen   Generation
}

// PropKind is the closed set of scalar kinds a frame property may hold.
type PropKind int

const (
	// PropInt is an integer scalar.
	PropInt PropKind = iota
	// PropRational is an exact numerator/denominator pair.
	PropRational
	// PropString is an enum-style string.
	PropString
)

// Prop is a single typed frame property.
// Exactly one of the value fields is meaningful, selected by Kind.
type Prop struct {
	Name string   `msgpack:"name"`
	Kind PropKind `msgpack:"kind"`
	Int  int64    `msgpack:"int,omitempty"`
	Rat  Rational `msgpack:"rat,omitempty"`
	Str  string   `msgpack:"str,omitempty"`
}

// FrameProps is an ordered mapping of frame properties as reported by the
// backend. Order is preserved for display; lookups are by name with a
// defined fallback when absent. Expected sizes are tens of entries, so
// linear scans are fine.
type FrameProps []Prop

// Well-known frame property names surfaced by the backend.
const (
	PropNameTitle       = "Name"
	PropNameMatrix      = "_Matrix"
	PropNamePrimaries   = "_Primaries"
	PropNameTransfer    = "_Transfer"
	PropNameColorRange  = "_ColorRange"
	PropNameDurationNum = "_DurationNum"
	PropNameDurationDen = "_DurationDen"
)

// Int returns the named integer property, or fallback when absent or of a
// different kind.
func (p FrameProps) Int(name string, fallback int64) int64 {
	for i := range p {
		if p[i].Name == name && p[i].Kind == PropInt {
			return p[i].Int
		}
	}
	return fallback
}

// Str returns the named string property, or fallback when absent or of a
// different kind.
func (p FrameProps) Str(name string, fallback string) string {
	for i := range p {
		if p[i].Name == name && p[i].Kind == PropString {
			return p[i].Str
		}
	}
	return fallback
}

// Rat returns the named rational property, or fallback when absent.
func (p FrameProps) Rat(name string, fallback Rational) Rational {
	for i := range p {
		if p[i].Name == name && p[i].Kind == PropRational {
			return p[i].Rat
		}
	}
	return fallback
}

// Duration returns the per-frame duration as a rational, assembled from
// the _DurationNum/_DurationDen pair. Zero when either half is missing;
// the scheduler falls back to the node's nominal rate.
func (p FrameProps) Duration() Rational {
	num := p.Int(PropNameDurationNum, 0)
	den := p.Int(PropNameDurationDen, 0)
	return Rational{Num: num, Den: den}
}

// CachedFrame is a decoded frame plus the metadata the engine needs to
// display, export, and account for it.
type CachedFrame struct {
	// Key identifies the (node, index, generation) this frame was
	// decoded for.
	Key FrameKey
	// Pixels is the opaque decoded payload. The engine never interprets
	// it beyond stride/format bookkeeping.
	Pixels []byte
	// Stride is the row stride of the payload in bytes.
	Stride int
	// Format is the pixel format tag of the payload.
	Format string
	// Props is the backend-reported property set for this frame.
	Props FrameProps
}

// SizeBytes is the frame's cost against the cache byte budget.
func (f *CachedFrame) SizeBytes() int64 {
	return int64(len(f.Pixels))
}
