package task

import "strings"

// Walk visits t and its descendants depth-first in tree order. Returning
// false from fn skips the children of the visited task.
func Walk(t Task, fn func(Task) bool) {
	if !fn(t) {
		return
	}
	var children []Task
	switch v := t.(type) {
	case *File:
		children = v.Tasks
	case *Suite:
		children = v.Tasks
	}
	for _, c := range children {
		Walk(c, fn)
	}
}

// Tests returns every test under t in tree order.
func Tests(t Task) []*Test {
	var tests []*Test
	Walk(t, func(n Task) bool {
		if tt, ok := n.(*Test); ok {
			tests = append(tests, tt)
		}
		return true
	})
	return tests
}

// HasTests reports whether any test is registered under t.
func HasTests(t Task) bool {
	return len(Tests(t)) > 0
}

// HasFailed reports whether t or any descendant ended in StateFail.
func HasFailed(t Task) bool {
	failed := false
	Walk(t, func(n Task) bool {
		if r := n.Common().Result; r != nil && r.State == StateFail {
			failed = true
		}
		return !failed
	})
	return failed
}

// FullName joins the names of t and its suites with " > ". The file name
// is not included.
func FullName(t Task) string {
	var parts []string
	b := t.Common()
	if t.Type() != TypeFile {
		parts = append(parts, b.Name)
	}
	for s := b.Suite; s != nil; s = s.Suite {
		if s.Suite == nil {
			// the file's own suite
			break
		}
		parts = append(parts, s.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}
