package plugin

// State is an execution lifecycle state
type State string

const (
	StatePending   State = "PENDING"
	StateBound     State = "BOUND"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// LogLevel is the severity of a captured log line
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogSource tells plugin output apart from host wrapper output
type LogSource string

const (
	SourcePlugin LogSource = "plugin"
	SourceHost   LogSource = "host"
)

// LogEntry is one captured log line
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
	Source    LogSource `json:"source"`
}

// FileRecord is one element of a listing result
type FileRecord struct {
	FileName      string `json:"fileName"`
	FileID        string `json:"fileId"`
	FileType      string `json:"fileType"`
	Size          int64  `json:"size"`
	SizeText      string `json:"sizeStr"`
	CreateTime    string `json:"createTime"`
	UpdateTime    string `json:"updateTime"`
	CreatedBy     string `json:"createBy"`
	DownloadCount int64  `json:"downloadCount"`
	FileIcon      string `json:"fileIcon"`
	PanType       string `json:"panType"`
	ParserURL     string `json:"parserUrl"`
	PreviewURL    string `json:"previewUrl"`
}

// ValueKind tags a Value variant
type ValueKind string

const (
	ValueNone     ValueKind = ""
	ValueString   ValueKind = "string"
	ValueFileList ValueKind = "file_list"
)

// Value is the validated return value of a capability
type Value struct {
	Kind  ValueKind    `json:"kind,omitempty"`
	Str   string       `json:"string,omitempty"`
	Files []FileRecord `json:"files,omitempty"`
}

// StringValue wraps a primary or byId result
func StringValue(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

// FileListValue wraps a listing result
func FileListValue(files []FileRecord) Value {
	if files == nil {
		files = []FileRecord{}
	}
	return Value{Kind: ValueFileList, Files: files}
}

// ErrorInfo is the structured failure carried by a result
type ErrorInfo struct {
	Kind       ErrorKind   `json:"kind"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
}

// ExecutionResult is what every caller receives, whatever the outcome
type ExecutionResult struct {
	ID            string     `json:"id"`
	Plugin        string     `json:"plugin"`
	Capability    Capability `json:"capability"`
	Success       bool       `json:"success"`
	State         State      `json:"state"`
	Value         Value      `json:"value"`
	Error         *ErrorInfo `json:"error,omitempty"`
	Logs          []LogEntry `json:"logs"`
	ElapsedMillis int64      `json:"elapsed_ms"`
}
