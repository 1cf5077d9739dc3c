package manifest

import "fmt"

// Edition selects which source trees a project runs with.
type Edition string

const (
	Community  Edition = "community"
	Enterprise Edition = "enterprise"
)

func (e Edition) IsValid() bool {
	return e == Community || e == Enterprise
}

func ParseEdition(s string) (Edition, error) {
	e := Edition(s)
	if !e.IsValid() {
		return "", fmt.Errorf("edition must be %q or %q, got %q", Community, Enterprise, s)
	}
	return e, nil
}
