package fiber

// assert panics on programmer error — misuse of the resume/yield/reset
// contract, never on data the caller could not have checked in advance.
func assert(cond bool, msg string) {
	if !cond {
		panic("fiber: " + msg)
	}
}
