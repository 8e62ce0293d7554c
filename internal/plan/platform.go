package plan

// Platform is the operating system a Conditional targets, named as in
// runtime.GOOS. Systems other than linux and windows match no conditional.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
)

// Applies reports whether the wrapped tasks run on current.
func (c Conditional) Applies(current Platform) bool {
	return c.Target == current
}

// evaluate returns the tasks that take the conditional's place: its
// children when it applies, nothing otherwise.
func (c Conditional) evaluate(current Platform) []TaskSpec {
	if !c.Applies(current) {
		return nil
	}
	return c.Children
}
