// Package builtin holds the in-process tools the CLI registers by default.
package builtin

import (
	"fmt"
	"strings"
	"time"

	"github.com/casualjim/toolstream/tool"
	"github.com/casualjim/toolstream/toolset"
)

// SourceName is the name of the built-in tool source.
const SourceName = "builtin"

// clock is replaced in tests.
var clock = time.Now

// CurrentTime reports the current time in an IANA time zone, UTC when empty.
func CurrentTime(timezone string) (string, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("unknown time zone %q", timezone)
	}
	now := clock().In(loc)
	return fmt.Sprintf("%s (%s, %s)", now.Format(time.RFC3339), now.Weekday(), loc), nil
}

// Tools returns the built-in tool definitions.
func Tools() []tool.Definition {
	return []tool.Definition{
		tool.Must(CurrentTime,
			tool.Name("current_time"),
			tool.Description("Get the current date and time in a time zone such as Europe/Paris"),
			tool.Parameters("timezone"),
		),
	}
}

// Source returns the built-in tools as a tool source.
func Source() *toolset.LocalSource {
	return toolset.NewLocalSource(SourceName, Tools()...)
}
