package dateutil

import "time"

// Date is a flag.Value accepting most date formats.
type Date struct {
	time.Time
}

// String renders the date in the dump tool layout.
func (d *Date) String() string {
	if d == nil || d.IsZero() {
		return ""
	}
	return d.Format(ToolLayout)
}

// Set parses a value.
func (d *Date) Set(value string) error {
	t, err := Parse(value)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
