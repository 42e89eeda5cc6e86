package tools

// Result is the unified return type from tool execution.
type Result struct {
	Text    string `json:"text"`     // content returned to the caller
	IsError bool   `json:"is_error"` // marks a failed call
	Err     error  `json:"-"`        // internal error (not serialized)
}

func NewResult(text string) *Result {
	return &Result{Text: text}
}

func ErrorResult(message string) *Result {
	return &Result{Text: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
