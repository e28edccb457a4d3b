/*
Package tool turns plain Go functions into tools a model can call.

A definition pairs a function with the name and description the model sees. The
argument schema is derived from the function signature through reflection: every
parameter becomes a required property of a JSON object, named paramN unless renamed
with Parameters. A leading context.Context is passed through from the caller.

	func weather(ctx context.Context, city string, days int) (Forecast, error) { ... }

	def := tool.Must(weather,
		tool.Name("weather"),
		tool.Description("Look up the forecast for a city"),
		tool.Parameters("city", "days"),
	)

	out, err := def.Call(ctx, `{"city":"Paris","days":3}`)

Results are rendered as text: strings pass through, numbers and times are formatted,
TextMarshaler and Stringer are honored and anything else is encoded as JSON. A
non-nil error result fails the call.
*/
package tool
