package typed

import "encoding/json"

// Target domain.

// TargetInfo describes one debuggable target.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Attached bool   `json:"attached"`
	OpenerID string `json:"openerId,omitempty"`
}

// SetDiscoverTargetsParams are the params of Target.setDiscoverTargets.
type SetDiscoverTargetsParams struct {
	Discover bool `json:"discover"`
}

// GetTargetsResult is the result of Target.getTargets.
type GetTargetsResult struct {
	TargetInfos []TargetInfo `json:"targetInfos"`
}

// AttachToTargetParams are the params of Target.attachToTarget. Flatten selects sessionId multiplexing.
type AttachToTargetParams struct {
	TargetID string `json:"targetId"`
	Flatten  bool   `json:"flatten,omitempty"`
}

// AttachToTargetResult carries the session created by Target.attachToTarget.
type AttachToTargetResult struct {
	SessionID string `json:"sessionId"`
}

// DetachFromTargetParams are the params of Target.detachFromTarget.
type DetachFromTargetParams struct {
	SessionID string `json:"sessionId"`
}

// AttachedToTargetEvent is the payload of Target.attachedToTarget.
type AttachedToTargetEvent struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

// DetachedFromTargetEvent is the payload of Target.detachedFromTarget.
type DetachedFromTargetEvent struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// TargetCreatedEvent is the payload of Target.targetCreated.
type TargetCreatedEvent struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

// TargetDestroyedEvent is the payload of Target.targetDestroyed.
type TargetDestroyedEvent struct {
	TargetID string `json:"targetId"`
}

// Target domain commands.
var (
	TargetSetDiscoverTargets = Method[SetDiscoverTargetsParams, Empty]{Name: "Target.setDiscoverTargets"}
	TargetGetTargets         = Method[Empty, GetTargetsResult]{Name: "Target.getTargets"}
	TargetAttachToTarget     = Method[AttachToTargetParams, AttachToTargetResult]{Name: "Target.attachToTarget"}
	TargetDetachFromTarget   = Method[DetachFromTargetParams, Empty]{Name: "Target.detachFromTarget"}
)

// Target domain events.
var (
	TargetAttachedToTarget   = Event[AttachedToTargetEvent]{Name: "Target.attachedToTarget"}
	TargetDetachedFromTarget = Event[DetachedFromTargetEvent]{Name: "Target.detachedFromTarget"}
	TargetTargetCreated      = Event[TargetCreatedEvent]{Name: "Target.targetCreated"}
	TargetTargetDestroyed    = Event[TargetDestroyedEvent]{Name: "Target.targetDestroyed"}
)

// Runtime domain.

// RemoteObject is a mirror of a value in the debuggee.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	ClassName   string          `json:"className,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
}

// ExceptionDetails describes an exception thrown during evaluation.
type ExceptionDetails struct {
	ExceptionID  int           `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	URL          string        `json:"url,omitempty"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

// EvaluateParams are the params of Runtime.evaluate.
type EvaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
	AwaitPromise  bool   `json:"awaitPromise,omitempty"`
	ContextID     int    `json:"contextId,omitempty"`
}

// EvaluateResult is the result of Runtime.evaluate.
type EvaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

// ConsoleAPICalledEvent is the payload of Runtime.consoleAPICalled.
type ConsoleAPICalledEvent struct {
	Type               string         `json:"type"`
	Args               []RemoteObject `json:"args"`
	ExecutionContextID int            `json:"executionContextId"`
	Timestamp          float64        `json:"timestamp"`
}

// ExceptionThrownEvent is the payload of Runtime.exceptionThrown.
type ExceptionThrownEvent struct {
	Timestamp        float64          `json:"timestamp"`
	ExceptionDetails ExceptionDetails `json:"exceptionDetails"`
}

// ExecutionContextCreatedEvent is the payload of Runtime.executionContextCreated.
type ExecutionContextCreatedEvent struct {
	Context struct {
		ID     int    `json:"id"`
		Origin string `json:"origin"`
		Name   string `json:"name"`
	} `json:"context"`
}

// Runtime domain commands.
var (
	RuntimeEnable   = Method[Empty, Empty]{Name: "Runtime.enable"}
	RuntimeEvaluate = Method[EvaluateParams, EvaluateResult]{Name: "Runtime.evaluate"}
)

// Runtime domain events.
var (
	RuntimeConsoleAPICalled        = Event[ConsoleAPICalledEvent]{Name: "Runtime.consoleAPICalled"}
	RuntimeExceptionThrown         = Event[ExceptionThrownEvent]{Name: "Runtime.exceptionThrown"}
	RuntimeExecutionContextCreated = Event[ExecutionContextCreatedEvent]{Name: "Runtime.executionContextCreated"}
)

// Debugger domain.

// Location is a position in a script.
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// CallFrame is one frame of a paused stack.
type CallFrame struct {
	CallFrameID  string   `json:"callFrameId"`
	FunctionName string   `json:"functionName"`
	Location     Location `json:"location"`
	URL          string   `json:"url"`
}

// DebuggerEnableResult is the result of Debugger.enable.
type DebuggerEnableResult struct {
	DebuggerID string `json:"debuggerId"`
}

// SetBreakpointByURLParams are the params of Debugger.setBreakpointByUrl. One of URL or URLRegex is set.
type SetBreakpointByURLParams struct {
	LineNumber   int    `json:"lineNumber"`
	URL          string `json:"url,omitempty"`
	URLRegex     string `json:"urlRegex,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

// SetBreakpointByURLResult is the result of Debugger.setBreakpointByUrl.
type SetBreakpointByURLResult struct {
	BreakpointID string     `json:"breakpointId"`
	Locations    []Location `json:"locations"`
}

// PausedEvent is the payload of Debugger.paused.
type PausedEvent struct {
	CallFrames     []CallFrame     `json:"callFrames"`
	Reason         string          `json:"reason"`
	Data           json.RawMessage `json:"data,omitempty"`
	HitBreakpoints []string        `json:"hitBreakpoints,omitempty"`
}

// ScriptParsedEvent is the payload of Debugger.scriptParsed.
type ScriptParsedEvent struct {
	ScriptID  string `json:"scriptId"`
	URL       string `json:"url"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Hash      string `json:"hash"`
}

// Debugger domain commands.
var (
	DebuggerEnable             = Method[Empty, DebuggerEnableResult]{Name: "Debugger.enable"}
	DebuggerPause              = Method[Empty, Empty]{Name: "Debugger.pause"}
	DebuggerResume             = Method[Empty, Empty]{Name: "Debugger.resume"}
	DebuggerSetBreakpointByURL = Method[SetBreakpointByURLParams, SetBreakpointByURLResult]{Name: "Debugger.setBreakpointByUrl"}
)

// Debugger domain events.
var (
	DebuggerPaused       = Event[PausedEvent]{Name: "Debugger.paused"}
	DebuggerResumed      = Event[Empty]{Name: "Debugger.resumed"}
	DebuggerScriptParsed = Event[ScriptParsedEvent]{Name: "Debugger.scriptParsed"}
)
