package lifecycle

import (
	"fmt"
	"strconv"
	"strings"

	"pims/api/internal/store"
)

// BuildCode assembles a project code: a zero-padded sequence followed by
// the owning organization's code chain, nearest first up to the root.
func BuildCode(sequence int, org store.Organization, ancestors []store.Organization) string {
	parts := []string{fmt.Sprintf("%05d", sequence), org.Code}
	for _, a := range ancestors {
		parts = append(parts, a.Code)
	}
	return strings.Join(parts, "-")
}

// NextSequence derives the next sequence number from the most recent code
// in scope. An empty or unparseable code starts the scope at 1.
func NextSequence(lastCode string) int {
	if lastCode == "" {
		return 1
	}
	head, _, _ := strings.Cut(lastCode, "-")
	seq, err := strconv.Atoi(head)
	if err != nil || seq < 0 {
		return 1
	}
	return seq + 1
}
