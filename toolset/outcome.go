package toolset

// Outcome is the result of a single invocation: either a value for the model or an
// error message for the model. Invoke always produces one.
type Outcome struct {
	Value   string
	Message string
	failed  bool
}

// Ok creates a successful outcome.
func Ok(value string) Outcome {
	return Outcome{Value: value}
}

// Err creates a failed outcome.
func Err(message string) Outcome {
	return Outcome{Message: message, failed: true}
}

// Failed reports whether the invocation failed.
func (o Outcome) Failed() bool {
	return o.failed
}

func (o Outcome) String() string {
	if o.failed {
		return "error: " + o.Message
	}
	return o.Value
}
