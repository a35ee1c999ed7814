package pipe

// Trace Positioning

// Tick is a simulation-cycle timestamp.
type Tick int64

// LineIndex is a 1-based line number within a trace stream.
type LineIndex uint64

// BadLineIndex is an invalid line index value
const BadLineIndex LineIndex = ^LineIndex(0)

// Trace Dialects

// Dialect identifies which trace format a stream uses.
type Dialect uint8

const (
	// DialectO3 is the colon-delimited sequential-tag format (O3PipeView).
	DialectO3 Dialect = iota
	// DialectFlex is the comma-delimited columnar-status format (PIPE_TRACE).
	DialectFlex
)

// Line markers used by the two dialects.
const (
	O3Marker   = "O3PipeView:"
	FlexMarker = "PIPE_TRACE"
)

// String returns the cpu_type tag the visualization client expects.
func (d Dialect) String() string {
	switch d {
	case DialectO3:
		return "O3"
	case DialectFlex:
		return "Flex"
	default:
		return "Unknown"
	}
}

// MarshalText lets a Dialect serialize as its cpu_type tag.
func (d Dialect) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Window margins and classification limits.
const (
	O3Margin          Tick = 10000
	FlexMargin        Tick = 50000
	ClassifyLineLimit      = 50

	// UnboundedEnd as an end tick means the window has no upper bound.
	UnboundedEnd Tick = -1
)

// General Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                Err = 0
	ErrFail           Err = 1
	ErrNotSeekable    Err = 2
	ErrStreamSeek     Err = 3
	ErrStreamRead     Err = 4
	ErrInvalidWindow  Err = 5
	ErrUnknownDialect Err = 6
	ErrConfigParse    Err = 7
	ErrSourceOpen     Err = 8
	ErrBadUpload      Err = 9
	ErrLast           Err = 10
)

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)
